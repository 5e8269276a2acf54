package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	harmonizer "github.com/kgraph-ai/harmonizer"
	"github.com/kgraph-ai/harmonizer/ontology"
)

type handler struct {
	engine *harmonizer.Engine
}

func newHandler(e *harmonizer.Engine) *handler {
	return &handler{engine: e}
}

// boundaryHTTPStatus maps harmonizer's transport-agnostic boundary status
// (§7) onto an actual HTTP status code, the one place that mapping is
// transport-specific.
func boundaryHTTPStatus(err error) int {
	switch harmonizer.BoundaryStatus(err) {
	case harmonizer.StatusBadRequest:
		return http.StatusBadRequest
	case harmonizer.StatusConflict:
		return http.StatusConflict
	case harmonizer.StatusTooLarge:
		return http.StatusRequestEntityTooLarge
	case harmonizer.StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// POST /documents
// Accepts a multipart file upload: fields "file" and "ontology_id".
func (h *handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(100 << 20); err != nil { // up to 100MB of file data held in memory, the rest spills to temp files
		writeError(w, http.StatusBadRequest, "expected multipart form with 'file' and 'ontology_id'")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'file' field")
		return
	}
	defer file.Close()

	ontologyID, err := strconv.ParseInt(r.FormValue("ontology_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid 'ontology_id' field")
		return
	}

	documentBytes, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		slog.Error("reading uploaded file", "error", err)
		return
	}

	docID, err := h.engine.Submit(ctx, documentBytes, header.Filename, ontologyID)
	if err != nil {
		writeError(w, boundaryHTTPStatus(err), "submission rejected")
		slog.Error("submit error", "filename", header.Filename, "error", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"document_id": docID,
		"filename":    header.Filename,
	})
}

// GET /documents/{id}/status
func (h *handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	status, err := h.engine.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, boundaryHTTPStatus(err), "document not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document_id": id,
		"status":      status.Status,
		"updated_at":  status.UpdatedAt,
		"error_log":   status.ErrorLog,
	})
}

// PUT /documents/{id}
// Replaces a document's content: deletes the prior version, then submits
// the new bytes under the same ontology.
func (h *handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with 'file' and 'ontology_id'")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'file' field")
		return
	}
	defer file.Close()

	ontologyID, err := strconv.ParseInt(r.FormValue("ontology_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid 'ontology_id' field")
		return
	}

	documentBytes, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}

	newID, err := h.engine.Update(ctx, id, documentBytes, header.Filename, ontologyID)
	if err != nil {
		writeError(w, boundaryHTTPStatus(err), "update rejected")
		slog.Error("update error", "document_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"document_id": newID})
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	if err := h.engine.Delete(r.Context(), id); err != nil {
		writeError(w, boundaryHTTPStatus(err), "delete failed")
		slog.Error("delete error", "document_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// POST /query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Question string `json:"question"`
		TopK     int    `json:"top_k,omitempty"`
		Mode     string `json:"mode,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.TopK <= 0 || req.TopK > 100 {
		req.TopK = 10
	}
	mode := harmonizer.QueryMode(req.Mode)
	switch mode {
	case harmonizer.QueryModeVector, harmonizer.QueryModeGraph, harmonizer.QueryModeHybrid:
	default:
		mode = harmonizer.QueryModeHybrid
	}

	result, err := h.engine.Query(ctx, req.Question, req.TopK, mode)
	if err != nil {
		writeError(w, boundaryHTTPStatus(err), "query failed")
		slog.Error("query error", "question", req.Question, "error", err)
		return
	}

	var answer strings.Builder
	for token := range result.Tokens {
		answer.WriteString(token)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"answer":  answer.String(),
		"sources": result.Sources,
	})
}

// POST /ontologies
// Registers a DomainConfig so subsequent Submit/Update calls can reference
// it by id. Ontology storage itself is host-owned (§6 lists
// `ontologies/domain_configs` as a relational table); this handler is the
// narrow write path this host uses to populate it.
func (h *handler) handleRegisterOntology(w http.ResponseWriter, r *http.Request) {
	var cfg ontology.DomainConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if cfg.ID == 0 || cfg.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required")
		return
	}

	if err := h.engine.RegisterDomainConfig(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "registration failed")
		slog.Error("register ontology error", "ontology_id", cfg.ID, "error", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": cfg.ID})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s", msg)})
}
