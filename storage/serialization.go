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

package storage

import (
	"sort"

	"github.com/poiesic/kbase/core"
)

// MarshalSession serializes an IngestionSession, preview chunks included.
func MarshalSession(s *core.IngestionSession) []byte {
	w := newRowWriter(256)
	w.string(s.ID)
	w.string(s.OrganizationID)
	w.string(s.AgentID)
	w.string(s.FileName)
	w.string(s.FileType)
	w.int64(s.FileSize)
	w.string(s.SourceType)
	w.string(string(s.Stage))
	w.int(s.Progress)
	w.int(len(s.PreviewChunks))
	for i := range s.PreviewChunks {
		marshalPreviewChunk(w, &s.PreviewChunks[i])
	}
	w.string(s.DocumentID)
	w.int(s.ChunkCount)
	w.string(s.ErrorMessage)
	w.time(s.CreatedAt)
	w.time(s.UploadedAt)
	w.time(s.PreviewedAt)
	w.time(s.ConfirmedAt)
	w.time(s.CompletedAt)
	w.time(s.ExpiresAt)
	w.time(s.UpdatedAt)
	return w.bytes()
}

// UnmarshalSession deserializes an IngestionSession.
func UnmarshalSession(data []byte) (*core.IngestionSession, error) {
	r := newRowReader(data)
	s := &core.IngestionSession{}
	s.ID = r.string()
	s.OrganizationID = r.string()
	s.AgentID = r.string()
	s.FileName = r.string()
	s.FileType = r.string()
	s.FileSize = r.int64()
	s.SourceType = r.string()
	s.Stage = core.Stage(r.string())
	s.Progress = r.int()
	if n := r.count(); n > 0 {
		s.PreviewChunks = make([]core.PreviewChunk, n)
		for i := 0; i < n && r.err == nil; i++ {
			unmarshalPreviewChunk(r, &s.PreviewChunks[i])
		}
	}
	s.DocumentID = r.string()
	s.ChunkCount = r.int()
	s.ErrorMessage = r.string()
	s.CreatedAt = r.time()
	s.UploadedAt = r.time()
	s.PreviewedAt = r.time()
	s.ConfirmedAt = r.time()
	s.CompletedAt = r.time()
	s.ExpiresAt = r.time()
	s.UpdatedAt = r.time()
	if err := r.done(); err != nil {
		return nil, err
	}
	return s, nil
}

func marshalPreviewChunk(w *rowWriter, c *core.PreviewChunk) {
	w.int(c.Index)
	w.string(c.Text)
	w.int(c.TokenCount)
	w.int(c.Metadata.PageNumber)
	w.string(c.Metadata.SectionTitle)
	w.int(c.Metadata.HierarchyLevel)
	// -1 encodes a missing parent
	parent := -1
	if c.Metadata.ParentIndex != nil {
		parent = *c.Metadata.ParentIndex
	}
	w.int(parent)
}

func unmarshalPreviewChunk(r *rowReader, c *core.PreviewChunk) {
	c.Index = r.int()
	c.Text = r.string()
	c.TokenCount = r.int()
	c.Metadata.PageNumber = r.int()
	c.Metadata.SectionTitle = r.string()
	c.Metadata.HierarchyLevel = r.int()
	if parent := r.int(); parent >= 0 {
		c.Metadata.ParentIndex = &parent
	}
}

// MarshalDocument serializes a Document.
func MarshalDocument(d *core.Document) []byte {
	w := newRowWriter(128)
	w.string(d.ID)
	w.string(d.OrganizationID)
	w.string(d.AgentID)
	w.string(d.FileName)
	w.string(d.FileType)
	w.int64(d.FileSize)
	w.string(d.SourceType)
	w.string(string(d.Status))
	w.int(d.ChunkCount)
	w.strings(d.RagEntryIDs)
	w.string(d.ErrorMessage)
	w.time(d.UploadedAt)
	w.time(d.ProcessedAt)
	return w.bytes()
}

// UnmarshalDocument deserializes a Document.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	r := newRowReader(data)
	d := &core.Document{}
	d.ID = r.string()
	d.OrganizationID = r.string()
	d.AgentID = r.string()
	d.FileName = r.string()
	d.FileType = r.string()
	d.FileSize = r.int64()
	d.SourceType = r.string()
	d.Status = core.DocumentStatus(r.string())
	d.ChunkCount = r.int()
	d.RagEntryIDs = r.strings()
	d.ErrorMessage = r.string()
	d.UploadedAt = r.time()
	d.ProcessedAt = r.time()
	if err := r.done(); err != nil {
		return nil, err
	}
	return d, nil
}

// MarshalChunk serializes a Chunk. Access statistics are not part of the
// row; they live in the chunk access log.
func MarshalChunk(c *core.Chunk) []byte {
	w := newRowWriter(len(c.Text) + 128)
	w.string(c.ID)
	w.string(c.DocumentID)
	w.string(c.AgentID)
	w.string(c.OrganizationID)
	w.string(c.Text)
	w.int(c.TokenCount)
	w.int(c.ChunkIndex)
	w.int(c.TotalChunks)
	w.int(c.PageNumber)
	w.string(c.SectionTitle)
	w.int(c.HierarchyLevel)
	w.string(c.ParentChunkID)
	w.string(c.Quality.ContentHash)
	w.bool(c.Quality.IsDuplicate)
	w.bool(c.Quality.IsLowQuality)
	w.string(c.RagEntryID)
	w.string(c.RagNamespace)
	w.time(c.CreatedAt)
	return w.bytes()
}

// UnmarshalChunk deserializes a Chunk.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	r := newRowReader(data)
	c := &core.Chunk{}
	c.ID = r.string()
	c.DocumentID = r.string()
	c.AgentID = r.string()
	c.OrganizationID = r.string()
	c.Text = r.string()
	c.TokenCount = r.int()
	c.ChunkIndex = r.int()
	c.TotalChunks = r.int()
	c.PageNumber = r.int()
	c.SectionTitle = r.string()
	c.HierarchyLevel = r.int()
	c.ParentChunkID = r.string()
	c.Quality.ContentHash = r.string()
	c.Quality.IsDuplicate = r.bool()
	c.Quality.IsLowQuality = r.bool()
	c.RagEntryID = r.string()
	c.RagNamespace = r.string()
	c.CreatedAt = r.time()
	if err := r.done(); err != nil {
		return nil, err
	}
	return c, nil
}

// MarshalAgentMetadata serializes AgentKnowledgeMetadata.
func MarshalAgentMetadata(m *core.AgentKnowledgeMetadata) []byte {
	w := newRowWriter(128)
	w.string(m.AgentID)
	w.string(m.OrganizationID)
	w.int64(m.TotalChunks)
	w.int64(m.TotalSizeBytes)
	w.int64(m.DocumentCount)
	w.time(m.LastIngestedAt)
	w.time(m.LastSearchedAt)
	w.string(string(m.Status))
	w.strings(m.ChunkKeysCache)
	w.float64(m.SearchCacheHitRate)
	w.float64(m.AvgSearchLatencyMs)
	w.int64(m.SearchCount)
	w.time(m.UpdatedAt)
	return w.bytes()
}

// UnmarshalAgentMetadata deserializes AgentKnowledgeMetadata.
func UnmarshalAgentMetadata(data []byte) (*core.AgentKnowledgeMetadata, error) {
	r := newRowReader(data)
	m := &core.AgentKnowledgeMetadata{}
	m.AgentID = r.string()
	m.OrganizationID = r.string()
	m.TotalChunks = r.int64()
	m.TotalSizeBytes = r.int64()
	m.DocumentCount = r.int64()
	m.LastIngestedAt = r.time()
	m.LastSearchedAt = r.time()
	m.Status = core.AgentStatus(r.string())
	m.ChunkKeysCache = r.strings()
	m.SearchCacheHitRate = r.float64()
	m.AvgSearchLatencyMs = r.float64()
	m.SearchCount = r.int64()
	m.UpdatedAt = r.time()
	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}

// MarshalQueueEntry serializes a DeletionQueueEntry.
func MarshalQueueEntry(e *core.DeletionQueueEntry) []byte {
	w := newRowWriter(128)
	w.string(e.ID)
	w.string(e.AgentID)
	w.string(e.OrganizationID)
	w.string(string(e.DeletionType))
	w.strings(e.TargetKeys)
	w.strings(e.DocumentIDs)
	w.int64(e.TotalItems)
	w.int64(e.ProcessedItems)
	w.string(e.Checkpoint)
	w.string(string(e.Status))
	w.int(e.BatchSize)
	w.string(e.ErrorMessage)
	w.bool(e.RemoveAgent)
	w.string(e.RequestedBy)
	w.string(e.Reason)
	w.time(e.CreatedAt)
	w.time(e.StartedAt)
	w.time(e.CompletedAt)
	return w.bytes()
}

// UnmarshalQueueEntry deserializes a DeletionQueueEntry.
func UnmarshalQueueEntry(data []byte) (*core.DeletionQueueEntry, error) {
	r := newRowReader(data)
	e := &core.DeletionQueueEntry{}
	e.ID = r.string()
	e.AgentID = r.string()
	e.OrganizationID = r.string()
	e.DeletionType = core.DeletionType(r.string())
	e.TargetKeys = r.strings()
	e.DocumentIDs = r.strings()
	e.TotalItems = r.int64()
	e.ProcessedItems = r.int64()
	e.Checkpoint = r.string()
	e.Status = core.QueueStatus(r.string())
	e.BatchSize = r.int()
	e.ErrorMessage = r.string()
	e.RemoveAgent = r.bool()
	e.RequestedBy = r.string()
	e.Reason = r.string()
	e.CreatedAt = r.time()
	e.StartedAt = r.time()
	e.CompletedAt = r.time()
	if err := r.done(); err != nil {
		return nil, err
	}
	return e, nil
}

// MarshalDeletedFile serializes a DeletedFileRecord.
func MarshalDeletedFile(rec *core.DeletedFileRecord) []byte {
	w := newRowWriter(192)
	w.string(rec.ID)
	w.string(rec.DocumentID)
	w.string(rec.OrganizationID)
	w.string(rec.AgentID)
	w.string(rec.FileName)
	w.string(rec.FileType)
	w.int64(rec.FileSize)
	w.string(rec.SourceType)
	w.int(rec.ChunkCount)
	w.strings(rec.RagEntryIDs)
	w.time(rec.UploadedAt)
	w.time(rec.ProcessedAt)
	w.string(rec.DeletedBy)
	w.string(rec.DeletionReason)
	w.time(rec.DeletedAt)
	w.stringMap(rec.BackupMetadata)
	w.time(rec.PurgeAt)
	w.bool(rec.IsPurged)
	w.time(rec.PurgedAt)
	return w.bytes()
}

// UnmarshalDeletedFile deserializes a DeletedFileRecord.
func UnmarshalDeletedFile(data []byte) (*core.DeletedFileRecord, error) {
	r := newRowReader(data)
	rec := &core.DeletedFileRecord{}
	rec.ID = r.string()
	rec.DocumentID = r.string()
	rec.OrganizationID = r.string()
	rec.AgentID = r.string()
	rec.FileName = r.string()
	rec.FileType = r.string()
	rec.FileSize = r.int64()
	rec.SourceType = r.string()
	rec.ChunkCount = r.int()
	rec.RagEntryIDs = r.strings()
	rec.UploadedAt = r.time()
	rec.ProcessedAt = r.time()
	rec.DeletedBy = r.string()
	rec.DeletionReason = r.string()
	rec.DeletedAt = r.time()
	rec.BackupMetadata = r.stringMap()
	rec.PurgeAt = r.time()
	rec.IsPurged = r.bool()
	rec.PurgedAt = r.time()
	if err := r.done(); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarshalAccessEntry serializes a ChunkAccessLogEntry.
func MarshalAccessEntry(e *core.ChunkAccessLogEntry) []byte {
	w := newRowWriter(64)
	w.string(e.AgentID)
	w.string(e.ChunkKey)
	w.int64(e.AccessCount)
	w.float64(e.AvgRelevanceScore)
	w.time(e.FirstAccessedAt)
	w.time(e.LastAccessedAt)
	return w.bytes()
}

// UnmarshalAccessEntry deserializes a ChunkAccessLogEntry.
func UnmarshalAccessEntry(data []byte) (*core.ChunkAccessLogEntry, error) {
	r := newRowReader(data)
	e := &core.ChunkAccessLogEntry{}
	e.AgentID = r.string()
	e.ChunkKey = r.string()
	e.AccessCount = r.int64()
	e.AvgRelevanceScore = r.float64()
	e.FirstAccessedAt = r.time()
	e.LastAccessedAt = r.time()
	if err := r.done(); err != nil {
		return nil, err
	}
	return e, nil
}

// MarshalCheckpoint serializes a SweepCheckpoint.
func MarshalCheckpoint(c *core.SweepCheckpoint) []byte {
	w := newRowWriter(48)
	w.string(c.Name)
	w.time(c.LastRunAt)
	w.int(c.LastCount)
	w.int64(c.TotalRuns)
	w.time(c.UpdatedAt)
	return w.bytes()
}

// UnmarshalCheckpoint deserializes a SweepCheckpoint.
func UnmarshalCheckpoint(data []byte) (*core.SweepCheckpoint, error) {
	r := newRowReader(data)
	c := &core.SweepCheckpoint{}
	c.Name = r.string()
	c.LastRunAt = r.time()
	c.LastCount = r.int()
	c.TotalRuns = r.int64()
	c.UpdatedAt = r.time()
	if err := r.done(); err != nil {
		return nil, err
	}
	return c, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
