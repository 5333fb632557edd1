package badger

import (
	"encoding/binary"
	"time"
)

const (
	sessionPrefix       = "ses:"
	sessionExpiryPrefix = "sesx:"
	documentPrefix      = "doc:"
	documentAgentPrefix = "doca:"
	chunkPrefix         = "chk:"
	chunkAgentPrefix    = "chka:"
	chunkDocPrefix      = "chkd:"
	chunkRagPrefix      = "chkr:"
	metadataPrefix      = "akm:"
	queuePrefix         = "dq:"
	queueStatusPrefix   = "dqs:"
	queueAgentPrefix    = "dqa:"
	auditPrefix         = "aud:"
	auditPurgePrefix    = "audp:"
	auditAgentPrefix    = "auda:"
	accessPrefix        = "acl:"
	checkpointPrefix    = "chkpt:"
)

// joinKey concatenates key segments with ':' between them. Ids never
// contain ':' so the parts of a composite key cannot run together.
func joinKey(prefix string, parts ...string) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p) + 1
	}
	buf := make([]byte, 0, n)
	buf = append(buf, prefix...)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, p...)
	}
	return buf
}

// scanPrefix is joinKey with a trailing separator, for iterating every key
// under a parent id.
func scanPrefix(prefix string, parent string) []byte {
	return append(joinKey(prefix, parent), ':')
}

// lastSegment returns the part of a composite key after the final ':'.
func lastSegment(key []byte) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return string(key[i+1:])
		}
	}
	return string(key)
}

func makeSessionKey(id string) []byte {
	return joinKey(sessionPrefix, id)
}

// makeSessionExpiryKey generates a composite key for the expiry index.
// Format: prefix + expiresAt(8 bytes BE micros) + ':' + id
func makeSessionExpiryKey(expiresAt time.Time, id string) []byte {
	buf := makeTimePrefix(sessionExpiryPrefix, expiresAt)
	buf = append(buf, ':')
	return append(buf, id...)
}

// makeTimePrefix writes the timestamp in BigEndian order so lexicographic
// sort matches chronological order.
func makeTimePrefix(prefix string, ts time.Time) []byte {
	buf := make([]byte, len(prefix)+8, len(prefix)+8+32)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(ts.UnixMicro()))
	return buf
}

func makeDocumentKey(id string) []byte {
	return joinKey(documentPrefix, id)
}

func makeDocumentAgentKey(agentID, docID string) []byte {
	return joinKey(documentAgentPrefix, agentID, docID)
}

func makeChunkKey(id string) []byte {
	return joinKey(chunkPrefix, id)
}

func makeChunkAgentKey(agentID, chunkID string) []byte {
	return joinKey(chunkAgentPrefix, agentID, chunkID)
}

func makeChunkDocKey(docID, chunkID string) []byte {
	return joinKey(chunkDocPrefix, docID, chunkID)
}

func makeChunkRagKey(ragEntryID string) []byte {
	return joinKey(chunkRagPrefix, ragEntryID)
}

func makeMetadataKey(agentID string) []byte {
	return joinKey(metadataPrefix, agentID)
}

func makeQueueKey(id string) []byte {
	return joinKey(queuePrefix, id)
}

func makeQueueStatusKey(status, id string) []byte {
	return joinKey(queueStatusPrefix, status, id)
}

func makeQueueAgentKey(agentID, id string) []byte {
	return joinKey(queueAgentPrefix, agentID, id)
}

func makeAuditKey(id string) []byte {
	return joinKey(auditPrefix, id)
}

func makeAuditPurgeKey(purgeAt time.Time, id string) []byte {
	buf := makeTimePrefix(auditPurgePrefix, purgeAt)
	buf = append(buf, ':')
	return append(buf, id...)
}

func makeAuditAgentKey(agentID, id string) []byte {
	return joinKey(auditAgentPrefix, agentID, id)
}

func makeAccessKey(agentID, chunkKey string) []byte {
	return joinKey(accessPrefix, agentID, chunkKey)
}

// makeCheckpointKey generates a key for sweep checkpoints.
func makeCheckpointKey(name string) []byte {
	return joinKey(checkpointPrefix, name)
}
