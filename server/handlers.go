package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/ingestion"
)

type createSessionBody struct {
	OrganizationID string `json:"organizationId"`
	FileName       string `json:"fileName"`
	FileType       string `json:"fileType"`
	FileSize       int64  `json:"fileSize"`
	SourceType     string `json:"sourceType"`
}

type chunksBody struct {
	Chunks []core.PreviewChunk `json:"chunks"`
}

type previewResponse struct {
	SessionID string              `json:"sessionId"`
	Stage     core.Stage          `json:"stage"`
	Chunks    []core.PreviewChunk `json:"chunks"`
}

// createSession accepts either a JSON description of an upload, which the
// caller chunks itself, or a multipart upload with a "file" part that is
// parsed and chunked here.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		s.uploadFile(w, r, agentID)
		return
	}

	var body createSessionBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.svc.Ingestion.CreateSession(r.Context(), ingestion.CreateSessionRequest{
		OrganizationID: orgID(r, body.OrganizationID),
		AgentID:        agentID,
		FileName:       body.FileName,
		FileType:       body.FileType,
		FileSize:       body.FileSize,
		SourceType:     body.SourceType,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request, agentID string) {
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: file part: %w", core.ErrInvalidInput, err))
		return
	}
	defer func(f multipart.File) { _ = f.Close() }(file)

	session, err := s.svc.Ingestion.CreateSession(r.Context(), ingestion.CreateSessionRequest{
		OrganizationID: orgID(r, r.FormValue("organizationId")),
		AgentID:        agentID,
		FileName:       header.Filename,
		FileType:       r.FormValue("fileType"),
		FileSize:       header.Size,
		SourceType:     "upload",
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err = s.svc.Ingestion.Process(r.Context(), session.ID, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// completeChunking attaches caller-produced chunks, advancing the session
// through parsing and chunking first when needed.
func (s *Server) completeChunking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var body chunksBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	session, err := s.svc.Ingestion.GetSession(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if session.Stage == core.StageUploading {
		if session, err = s.svc.Ingestion.AdvanceToParsing(ctx, id); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if session.Stage == core.StageParsing {
		if _, err = s.svc.Ingestion.AdvanceToChunking(ctx, id); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	session, err = s.svc.Ingestion.CompleteChunking(ctx, id, body.Chunks)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Ingestion.GetStatus(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) sessionPreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	session, err := s.svc.Ingestion.GetSession(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !session.Stage.HoldsPreview() {
		s.writeError(w, r, fmt.Errorf("%w: session %s is %s and holds no preview", core.ErrInvalidState, id, session.Stage))
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{SessionID: session.ID, Stage: session.Stage, Chunks: session.PreviewChunks})
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Ingestion.Confirm(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Status())
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Ingestion.Cancel(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Status())
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.svc.Ingestion.ListDocuments(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": nonNil(docs)})
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.Deletion.DeleteDocument(r.Context(),
		chi.URLParam(r, "agentID"), orgID(r, ""), chi.URLParam(r, "documentID"),
		requestedBy(r), r.URL.Query().Get("reason"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, entry)
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	removeAgent := false
	if v := r.URL.Query().Get("removeAgent"); v != "" {
		var err error
		if removeAgent, err = strconv.ParseBool(v); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: removeAgent: %w", core.ErrInvalidInput, err))
			return
		}
	}
	entry, err := s.svc.Deletion.DeleteAgentNamespace(r.Context(),
		chi.URLParam(r, "agentID"), orgID(r, ""), removeAgent, requestedBy(r), r.URL.Query().Get("reason"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, entry)
}

func (s *Server) deletionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Deletion.GetStatus(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) listDeletions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.Deletion.List(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deletions": nonNil(entries)})
}

func (s *Server) getDeletion(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.Deletion.Get(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) cancelDeletion(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.Deletion.Cancel(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) listDeletedFiles(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.Audit.List(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deletedFiles": nonNil(records)})
}

func (s *Server) agentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Metadata.GetStats(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		var err error
		if limit, err = strconv.Atoi(v); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: limit: %w", core.ErrInvalidInput, err))
			return
		}
	}
	results, err := s.svc.Search.Search(r.Context(), chi.URLParam(r, "agentID"), q.Get("q"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": nonNil(results)})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: request body is empty", core.ErrInvalidInput)
		}
		return fmt.Errorf("%w: request body: %w", core.ErrInvalidInput, err)
	}
	return nil
}

// orgID prefers the X-Organization-ID header, then the query, then fallback.
func orgID(r *http.Request, fallback string) string {
	if v := r.Header.Get("X-Organization-ID"); v != "" {
		return v
	}
	if v := r.URL.Query().Get("organizationId"); v != "" {
		return v
	}
	return fallback
}

func requestedBy(r *http.Request) string {
	if v := r.Header.Get("X-Requested-By"); v != "" {
		return v
	}
	return "api"
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
