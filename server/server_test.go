package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/kbase/accesslog"
	"github.com/poiesic/kbase/agentmeta"
	"github.com/poiesic/kbase/audit"
	"github.com/poiesic/kbase/chunking"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/deletion"
	"github.com/poiesic/kbase/ingestion"
	"github.com/poiesic/kbase/search"
	"github.com/poiesic/kbase/storage/badger"
	"github.com/poiesic/kbase/vectorstore/mock"
	"github.com/poiesic/kbase/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	svc     Services
	vectors *mock.MockStore
	handler http.Handler
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	store := badger.NewMemoryStore(t)
	vectors := mock.NewMockStore()
	clock := core.NewFakeClock(time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC))
	retry := worker.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}

	meta, err := agentmeta.NewIndex(store, agentmeta.WithClock(clock))
	require.NoError(t, err)
	auditLog, err := audit.NewLog(store, audit.WithClock(clock))
	require.NoError(t, err)
	access, err := accesslog.NewLog(store, accesslog.WithClock(clock))
	require.NoError(t, err)
	mgr, err := ingestion.NewManager(store, vectors, meta,
		ingestion.WithClock(clock),
		ingestion.WithPoolSize(2),
		ingestion.WithChunker(chunking.New(chunking.WithTokenCounter(chunking.WordTokens))),
		ingestion.WithRetryPolicy(retry),
	)
	require.NoError(t, err)
	t.Cleanup(mgr.Release)
	engine, err := deletion.NewEngine(store, vectors, meta, auditLog,
		deletion.WithClock(clock),
		deletion.WithPoolSize(2),
		deletion.WithRetryPolicy(retry),
	)
	require.NoError(t, err)
	t.Cleanup(engine.Release)
	searcher, err := search.NewSearcher(store, vectors, meta, access)
	require.NoError(t, err)

	ts := &testServer{
		svc: Services{
			Ingestion: mgr,
			Deletion:  engine,
			Metadata:  meta,
			Search:    searcher,
			Audit:     auditLog,
		},
		vectors: vectors,
	}
	srv, err := New(ts.svc, opts...)
	require.NoError(t, err)
	ts.handler = srv.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func previewChunks() []core.PreviewChunk {
	return []core.PreviewChunk{
		{Index: 0, Text: "Shipping takes five business days within the country.", TokenCount: 8},
		{Index: 1, Text: "International orders ship with tracking numbers.", TokenCount: 6},
	}
}

// ingest drives a session through preview and confirmation over HTTP.
func (ts *testServer) ingest(t *testing.T, agentID string) core.SessionStatus {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/agents/"+agentID+"/sessions", createSessionBody{
		OrganizationID: "org-1", FileName: "shipping.txt", FileType: "txt", FileSize: 512,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[core.IngestionSession](t, rec)
	assert.Equal(t, core.StageUploading, session.Stage)

	rec = ts.do(t, http.MethodPost, "/v1/sessions/"+session.ID+"/chunks", chunksBody{Chunks: previewChunks()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.StagePreviewReady, decode[core.IngestionSession](t, rec).Stage)

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+session.ID+"/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[previewResponse](t, rec).Chunks, 2)

	rec = ts.do(t, http.MethodPost, "/v1/sessions/"+session.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decode[core.SessionStatus](t, rec)
	require.Equal(t, core.StageCompleted, status.Stage)
	return status
}

func TestNew(t *testing.T) {
	t.Run("requires services", func(t *testing.T) {
		_, err := New(Services{})
		assert.ErrorIs(t, err, ErrServiceRequired)
	})

	t.Run("rejects bad upload limit", func(t *testing.T) {
		ts := newTestServer(t)
		_, err := New(ts.svc, WithMaxUploadBytes(0))
		assert.Error(t, err)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kbase_http_requests_total")
}

func TestIngestionFlow(t *testing.T) {
	ts := newTestServer(t)
	status := ts.ingest(t, "agent-1")
	assert.NotEmpty(t, status.DocumentID)

	rec := ts.do(t, http.MethodGet, "/v1/sessions/"+status.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, decode[core.SessionStatus](t, rec).Progress)

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+status.SessionID+"/preview", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/agents/agent-1/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decode[map[string][]core.Document](t, rec)["documents"]
	require.Len(t, docs, 1)
	assert.Equal(t, status.DocumentID, docs[0].ID)

	rec = ts.do(t, http.MethodGet, "/v1/agents/agent-1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[core.AgentKnowledgeMetadata](t, rec)
	assert.Equal(t, int64(2), stats.TotalChunks)
	assert.Equal(t, int64(1), stats.DocumentCount)

	rec = ts.do(t, http.MethodGet, "/v1/agents/agent-1/search?q=international+tracking&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decode[map[string][]core.SearchResult](t, rec)["results"]
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Chunk.Text, "tracking")
}

func TestCancelSession(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/v1/agents/agent-1/sessions", createSessionBody{
		OrganizationID: "org-1", FileName: "a.txt", FileSize: 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[core.IngestionSession](t, rec).ID

	rec = ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/chunks", chunksBody{Chunks: previewChunks()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.StageCancelled, decode[core.SessionStatus](t, rec).Stage)

	rec = ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMultipartUpload(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("organizationId", "org-1"))
	part, err := mw.CreateFormFile("file", "faq.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("Returns are accepted within thirty days of delivery."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/agents/agent-1/sessions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[core.IngestionSession](t, rec)
	assert.Equal(t, core.StagePreviewReady, session.Stage)
	assert.Equal(t, "txt", session.FileType)
	assert.NotEmpty(t, session.PreviewChunks)
}

func TestDeletionEndpoints(t *testing.T) {
	ts := newTestServer(t)
	status := ts.ingest(t, "agent-1")
	ctx := context.Background()

	rec := ts.do(t, http.MethodDelete, "/v1/agents/agent-1/documents/"+status.DocumentID, nil,
		"X-Organization-ID", "org-1", "X-Requested-By", "alice")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	entry := decode[core.DeletionQueueEntry](t, rec)
	assert.Equal(t, core.DeleteSpecificDocuments, entry.DeletionType)
	assert.Equal(t, int64(2), entry.TotalItems)

	rec = ts.do(t, http.MethodGet, "/v1/agents/agent-1/deletion", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[core.DeletionStatus](t, rec).InProgress)

	require.NoError(t, ts.svc.Deletion.ProcessEntry(ctx, entry.ID))

	rec = ts.do(t, http.MethodGet, "/v1/deletions/"+entry.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.QueueCompleted, decode[core.DeletionQueueEntry](t, rec).Status)

	rec = ts.do(t, http.MethodPost, "/v1/deletions/"+entry.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/agents/agent-1/deleted-files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode[map[string][]core.DeletedFileRecord](t, rec)["deletedFiles"]
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].DeletedBy)

	rec = ts.do(t, http.MethodGet, "/v1/agents/agent-1/deletions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]core.DeletionQueueEntry](t, rec)["deletions"], 1)
}

func TestDeleteAgent(t *testing.T) {
	ts := newTestServer(t)
	ts.ingest(t, "agent-1")

	rec := ts.do(t, http.MethodDelete, "/v1/agents/agent-1?removeAgent=maybe&organizationId=org-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/v1/agents/agent-1?organizationId=org-1", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	entry := decode[core.DeletionQueueEntry](t, rec)
	assert.Equal(t, core.DeleteFullNamespace, entry.DeletionType)

	// New uploads are refused while the namespace is being wiped.
	rec = ts.do(t, http.MethodPost, "/v1/agents/agent-1/sessions", createSessionBody{
		OrganizationID: "org-1", FileName: "b.txt", FileSize: 10,
	})
	if rec.Code == http.StatusCreated {
		id := decode[core.IngestionSession](t, rec).ID
		rec = ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/chunks", chunksBody{Chunks: previewChunks()})
		require.Equal(t, http.StatusOK, rec.Code)
		rec = ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/confirm", nil)
	}
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/agents/unknown/deletion", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[core.DeletionStatus](t, rec).InProgress)

	rec = ts.do(t, http.MethodDelete, "/v1/agents/unknown?organizationId=org-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", core.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: missing", core.ErrNotFound), http.StatusNotFound},
		{core.ErrExpiredSession, http.StatusGone},
		{core.ErrInvalidState, http.StatusConflict},
		{core.ErrAgentDeleting, http.StatusConflict},
		{core.ErrExternalDependency, http.StatusBadGateway},
		{core.ErrDeletionPartialFailure, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestErrorBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/sessions/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, http.StatusNotFound, body.Status)
	assert.NotEmpty(t, body.Error)

	req := httptest.NewRequest(http.MethodPost, "/v1/agents/agent-1/sessions", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/agents/agent-1/search?q=x&limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, WithRateLimit(1, 2))

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, ts.do(t, http.MethodGet, "/v1/agents/agent-1/stats", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Other clients have their own bucket.
	rec := ts.do(t, http.MethodGet, "/v1/agents/agent-1/stats", nil, "X-Forwarded-For", "10.0.0.9")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health checks are not limited.
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", nil).Code)
}

func TestListenAndServeShutsDown(t *testing.T) {
	ts := newTestServer(t)
	srv, err := New(ts.svc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
