// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import "time"

// DefaultPurgeRetention is how long a deleted file stays in the audit log
// before it becomes eligible for permanent removal.
const DefaultPurgeRetention = 30 * 24 * time.Hour

// DefaultPreviewTTL bounds the soft-commit window of a preview session.
const DefaultPreviewTTL = 24 * time.Hour

// ChunkMetadata carries the optional structural hints produced by a chunker.
type ChunkMetadata struct {
	PageNumber     int    `json:"pageNumber,omitempty"`
	SectionTitle   string `json:"sectionTitle,omitempty"`
	HierarchyLevel int    `json:"hierarchyLevel,omitempty"`
	// ParentIndex points at the preview chunk that contains this one.
	ParentIndex *int `json:"parentIndex,omitempty"`
}

// PreviewChunk is a chunk held on a session while it waits at the preview gate.
type PreviewChunk struct {
	Index      int           `json:"index"`
	Text       string        `json:"text"`
	TokenCount int           `json:"tokenCount"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// IngestionSession tracks one upload attempt through the ingestion pipeline.
type IngestionSession struct {
	ID             string         `json:"sessionId"`
	OrganizationID string         `json:"organizationId"`
	AgentID        string         `json:"agentId"`
	FileName       string         `json:"fileName"`
	FileType       string         `json:"fileType"`
	FileSize       int64          `json:"fileSize"`
	SourceType     string         `json:"sourceType"`
	Stage          Stage          `json:"stage"`
	Progress       int            `json:"progress"`
	PreviewChunks  []PreviewChunk `json:"previewChunks,omitempty"`
	DocumentID     string         `json:"documentId,omitempty"`
	ChunkCount     int            `json:"chunkCount"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UploadedAt     time.Time      `json:"uploadedAt"`
	PreviewedAt    time.Time      `json:"previewedAt"`
	ConfirmedAt    time.Time      `json:"confirmedAt"`
	CompletedAt    time.Time      `json:"completedAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// SessionStatus is the read-only projection returned to polling callers.
type SessionStatus struct {
	SessionID  string    `json:"sessionId"`
	Stage      Stage     `json:"stage"`
	Progress   int       `json:"progress"`
	ChunkCount int       `json:"chunkCount"`
	DocumentID string    `json:"documentId,omitempty"`
	Error      string    `json:"error,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Status projects the session for polling.
func (s *IngestionSession) Status() SessionStatus {
	return SessionStatus{
		SessionID:  s.ID,
		Stage:      s.Stage,
		Progress:   s.Progress,
		ChunkCount: s.ChunkCount,
		DocumentID: s.DocumentID,
		Error:      s.ErrorMessage,
		ExpiresAt:  s.ExpiresAt,
	}
}

// DocumentStatus is the lifecycle state of a confirmed document.
type DocumentStatus string

const (
	DocumentUploading  DocumentStatus = "uploading"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is one confirmed ingestion.
type Document struct {
	ID             string         `json:"documentId"`
	OrganizationID string         `json:"organizationId"`
	AgentID        string         `json:"agentId"`
	FileName       string         `json:"fileName"`
	FileType       string         `json:"fileType"`
	FileSize       int64          `json:"fileSize"`
	SourceType     string         `json:"sourceType"`
	Status         DocumentStatus `json:"status"`
	ChunkCount     int            `json:"chunkCount"`
	RagEntryIDs    []string       `json:"ragEntryIds,omitempty"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	UploadedAt     time.Time      `json:"uploadedAt"`
	ProcessedAt    time.Time      `json:"processedAt"`
}

// QualityFlags are advisory signals computed while a chunk is persisted.
type QualityFlags struct {
	ContentHash  string `json:"contentHash"`
	IsDuplicate  bool   `json:"isDuplicate"`
	IsLowQuality bool   `json:"isLowQuality"`
}

// Chunk is one persisted content fragment.
//
// AccessCount, AvgRelevanceScore and LastAccessedAt are not stored with the
// chunk row; they are filled from the chunk access log when a chunk is
// returned from search.
type Chunk struct {
	ID                string       `json:"chunkId"`
	DocumentID        string       `json:"documentId"`
	AgentID           string       `json:"agentId"`
	OrganizationID    string       `json:"organizationId"`
	Text              string       `json:"text"`
	TokenCount        int          `json:"tokenCount"`
	ChunkIndex        int          `json:"chunkIndex"`
	TotalChunks       int          `json:"totalChunks"`
	PageNumber        int          `json:"pageNumber,omitempty"`
	SectionTitle      string       `json:"sectionTitle,omitempty"`
	HierarchyLevel    int          `json:"hierarchyLevel,omitempty"`
	ParentChunkID     string       `json:"parentChunkId,omitempty"`
	Quality           QualityFlags `json:"quality"`
	RagEntryID        string       `json:"ragEntryId,omitempty"`
	RagNamespace      string       `json:"ragNamespace"`
	AccessCount       int64        `json:"accessCount"`
	AvgRelevanceScore float64      `json:"avgRelevanceScore"`
	LastAccessedAt    time.Time    `json:"lastAccessedAt"`
	CreatedAt         time.Time    `json:"createdAt"`
}

// SizeBytes is the number of bytes the chunk contributes to agent totals.
func (c *Chunk) SizeBytes() int64 {
	return int64(len(c.Text))
}

// AgentStatus gates ingestion for an agent.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentDeleting AgentStatus = "deleting"
	AgentDeleted  AgentStatus = "deleted"
)

// AgentKnowledgeMetadata is the per-agent rollup of stored knowledge.
type AgentKnowledgeMetadata struct {
	AgentID            string      `json:"agentId"`
	OrganizationID     string      `json:"organizationId"`
	TotalChunks        int64       `json:"totalChunks"`
	TotalSizeBytes     int64       `json:"totalSizeBytes"`
	DocumentCount      int64       `json:"documentCount"`
	LastIngestedAt     time.Time   `json:"lastIngestedAt"`
	LastSearchedAt     time.Time   `json:"lastSearchedAt"`
	Status             AgentStatus `json:"status"`
	ChunkKeysCache     []string    `json:"chunkKeysCache,omitempty"`
	SearchCacheHitRate float64     `json:"searchCacheHitRate"`
	AvgSearchLatencyMs float64     `json:"avgSearchLatencyMs"`
	SearchCount        int64       `json:"searchCount"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// DefaultAgentMetadata is the "no knowledge yet" projection for an agent.
func DefaultAgentMetadata(agentID string) *AgentKnowledgeMetadata {
	return &AgentKnowledgeMetadata{
		AgentID: agentID,
		Status:  AgentActive,
	}
}

// DeletionType selects the scope of a deletion request.
type DeletionType string

const (
	DeleteFullNamespace     DeletionType = "full_namespace"
	DeleteSpecificDocuments DeletionType = "specific_documents"
	DeleteCleanupOrphans    DeletionType = "cleanup_orphans"
)

// QueueStatus is the state of a deletion queue entry.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
)

// IsTerminal reports whether no further processing happens for the status.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueCompleted || s == QueueFailed || s == QueueCancelled
}

// DeletionQueueEntry is one deletion request and its durable progress.
type DeletionQueueEntry struct {
	ID             string       `json:"id"`
	AgentID        string       `json:"agentId"`
	OrganizationID string       `json:"organizationId"`
	DeletionType   DeletionType `json:"deletionType"`
	TargetKeys     []string     `json:"targetKeys,omitempty"`
	DocumentIDs    []string     `json:"documentIds,omitempty"`
	TotalItems     int64        `json:"totalItems"`
	ProcessedItems int64        `json:"processedItems"`
	// Checkpoint is the last chunk id removed; batches resume after it.
	Checkpoint   string      `json:"checkpoint,omitempty"`
	Status       QueueStatus `json:"status"`
	BatchSize    int         `json:"batchSize"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	RemoveAgent  bool        `json:"removeAgent"`
	RequestedBy  string      `json:"requestedBy,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	StartedAt    time.Time   `json:"startedAt"`
	CompletedAt  time.Time   `json:"completedAt"`
}

// Progress returns completion as a percentage in [0, 100].
func (e *DeletionQueueEntry) Progress() int {
	if e.TotalItems <= 0 {
		if e.Status == QueueCompleted {
			return 100
		}
		return 0
	}
	return int(e.ProcessedItems * 100 / e.TotalItems)
}

// DeletionStatus is the polling projection of an agent's deletion work.
type DeletionStatus struct {
	EntryID        string      `json:"entryId,omitempty"`
	Status         QueueStatus `json:"status,omitempty"`
	InProgress     bool        `json:"inProgress"`
	Progress       int         `json:"progress"`
	ProcessedItems int64       `json:"processedItems"`
	TotalItems     int64       `json:"totalItems"`
	Error          string      `json:"error,omitempty"`
}

// DeletedFileRecord is the audit snapshot of a removed document.
type DeletedFileRecord struct {
	ID             string            `json:"id"`
	DocumentID     string            `json:"documentId"`
	OrganizationID string            `json:"organizationId"`
	AgentID        string            `json:"agentId"`
	FileName       string            `json:"fileName"`
	FileType       string            `json:"fileType"`
	FileSize       int64             `json:"fileSize"`
	SourceType     string            `json:"sourceType"`
	ChunkCount     int               `json:"chunkCount"`
	RagEntryIDs    []string          `json:"ragEntryIds,omitempty"`
	UploadedAt     time.Time         `json:"uploadedAt"`
	ProcessedAt    time.Time         `json:"processedAt"`
	DeletedBy      string            `json:"deletedBy,omitempty"`
	DeletionReason string            `json:"deletionReason,omitempty"`
	DeletedAt      time.Time         `json:"deletedAt"`
	BackupMetadata map[string]string `json:"backupMetadata,omitempty"`
	PurgeAt        time.Time         `json:"purgeAt"`
	IsPurged       bool              `json:"isPurged"`
	PurgedAt       time.Time         `json:"purgedAt"`
}

// ChunkAccessLogEntry records retrieval frequency for one chunk of an agent.
type ChunkAccessLogEntry struct {
	AgentID           string    `json:"agentId"`
	ChunkKey          string    `json:"chunkKey"`
	AccessCount       int64     `json:"accessCount"`
	AvgRelevanceScore float64   `json:"avgRelevanceScore"`
	FirstAccessedAt   time.Time `json:"firstAccessedAt"`
	LastAccessedAt    time.Time `json:"lastAccessedAt"`
}

// SearchResult is a chunk matched by retrieval with its relevance score.
type SearchResult struct {
	Chunk *Chunk  `json:"chunk"`
	Score float32 `json:"score"`
}

// SweepCheckpoint records the last run of a periodic sweep.
type SweepCheckpoint struct {
	Name      string    `json:"name"`
	LastRunAt time.Time `json:"lastRunAt"`
	LastCount int       `json:"lastCount"`
	TotalRuns int64     `json:"totalRuns"`
	UpdatedAt time.Time `json:"updatedAt"`
}
