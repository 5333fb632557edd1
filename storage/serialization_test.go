package storage

import (
	"testing"
	"time"

	"github.com/poiesic/kbase/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalSession(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	parent := 0

	session := &core.IngestionSession{
		ID:             "3f0e7c52-8d8b-4f0e-9a55-7d8f4c1b2a10",
		OrganizationID: "org-1",
		AgentID:        "agent-1",
		FileName:       "handbook.pdf",
		FileType:       "pdf",
		FileSize:       2048,
		SourceType:     "upload",
		Stage:          core.StagePreviewReady,
		Progress:       50,
		PreviewChunks: []core.PreviewChunk{
			{Index: 0, Text: "Chapter 1", TokenCount: 2, Metadata: core.ChunkMetadata{PageNumber: 1, SectionTitle: "Intro", HierarchyLevel: 1}},
			{Index: 1, Text: "Body text", TokenCount: 2, Metadata: core.ChunkMetadata{PageNumber: 1, ParentIndex: &parent}},
		},
		CreatedAt:   now,
		PreviewedAt: now,
		ExpiresAt:   now.Add(core.DefaultPreviewTTL),
		UpdatedAt:   now,
	}

	decoded, err := UnmarshalSession(MarshalSession(session))
	require.NoError(t, err)
	assert.Equal(t, session, decoded)
	assert.True(t, decoded.ConfirmedAt.IsZero())
	assert.Nil(t, decoded.PreviewChunks[0].Metadata.ParentIndex)
	require.NotNil(t, decoded.PreviewChunks[1].Metadata.ParentIndex)
	assert.Equal(t, 0, *decoded.PreviewChunks[1].Metadata.ParentIndex)
}

func TestMarshalUnmarshalChunkSkipsAccessStats(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	chunk := &core.Chunk{
		ID:                "01JABCDEF0000000000000000A",
		DocumentID:        "01JABCDEF0000000000000000B",
		AgentID:           "agent-1",
		OrganizationID:    "org-1",
		Text:              "some text",
		TokenCount:        2,
		ChunkIndex:        3,
		TotalChunks:       4,
		Quality:           core.QualityFlags{ContentHash: core.ContentHash("some text"), IsDuplicate: true},
		RagEntryID:        "rag-1",
		RagNamespace:      "agent-1",
		AccessCount:       9,
		AvgRelevanceScore: 0.8,
		CreatedAt:         now,
	}

	decoded, err := UnmarshalChunk(MarshalChunk(chunk))
	require.NoError(t, err)
	assert.Equal(t, chunk.Text, decoded.Text)
	assert.Equal(t, chunk.Quality, decoded.Quality)
	assert.Equal(t, chunk.CreatedAt, decoded.CreatedAt)
	assert.Zero(t, decoded.AccessCount)
	assert.Zero(t, decoded.AvgRelevanceScore)
}

func TestMarshalUnmarshalDeletedFile(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := &core.DeletedFileRecord{
		ID:             "01JAUDIT00000000000000000A",
		DocumentID:     "doc",
		AgentID:        "agent-1",
		FileName:       "a.txt",
		ChunkCount:     3,
		RagEntryIDs:    []string{"r1", "r2", "r3"},
		DeletedBy:      "ops",
		DeletedAt:      now,
		BackupMetadata: map[string]string{"fileType": "txt", "status": "completed"},
		PurgeAt:        now.Add(core.DefaultPurgeRetention),
	}

	decoded, err := UnmarshalDeletedFile(MarshalDeletedFile(rec))
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestMarshalUnmarshalAgentMetadata(t *testing.T) {
	meta := &core.AgentKnowledgeMetadata{
		AgentID:            "agent-1",
		TotalChunks:        250,
		TotalSizeBytes:     1 << 20,
		DocumentCount:      3,
		Status:             core.AgentDeleting,
		ChunkKeysCache:     []string{"a", "b"},
		SearchCacheHitRate: 0.25,
		AvgSearchLatencyMs: 12.5,
		SearchCount:        4,
	}
	decoded, err := UnmarshalAgentMetadata(MarshalAgentMetadata(meta))
	require.NoError(t, err)
	assert.Equal(t, meta, decoded)
}

func TestUnmarshal_Invalid(t *testing.T) {
	valid := MarshalQueueEntry(&core.DeletionQueueEntry{ID: "q1", AgentID: "a", TargetKeys: []string{"k1", "k2"}})

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty data", []byte{}, ErrTruncatedData},
		{"unknown version", append([]byte{99}, valid[1:]...), ErrUnknownVersion},
		{"truncated row", valid[:len(valid)/2], ErrSerializationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalQueueEntry(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
