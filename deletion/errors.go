package deletion

import "errors"

var (
	// ErrStoreRequired is returned when a store is not provided.
	ErrStoreRequired = errors.New("store required")

	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrMetadataIndexRequired is returned when a metadata index is not provided.
	ErrMetadataIndexRequired = errors.New("metadata index required")

	// ErrAuditLogRequired is returned when an audit log is not provided.
	ErrAuditLogRequired = errors.New("audit log required")

	// errLostClaim means another worker owns the entry.
	errLostClaim = errors.New("entry claimed by another worker")
)
