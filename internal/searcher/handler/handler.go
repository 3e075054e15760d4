// Package handler exposes the comment index over HTTP.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Hikikomori041/m2-projetweb/internal/commentindex"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/validator"
	"github.com/Hikikomori041/m2-projetweb/internal/searcher/cache"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/Hikikomori041/m2-projetweb/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Index is the part of *commentindex.Service the handlers use.
type Index interface {
	IndexFields(ctx context.Context, doc index.Document) error
	ReplaceFields(ctx context.Context, doc index.Document) error
	DeleteDocument(ctx context.Context, id string) error
	Search(ctx context.Context, keywords []string) ([]string, error)
	SearchHits(ctx context.Context, text string, limit int) (*commentindex.SearchResult, error)
	SearchBoolean(ctx context.Context, text string, limit int) (*commentindex.SearchResult, error)
	Stats(ctx context.Context) (indexer.Stats, error)
	Merge(ctx context.Context) (uint64, error)
}

type Handler struct {
	index       Index
	cache       *cache.QueryCache
	maxKeywords int
	logger      *slog.Logger
}

// New returns the handlers. queryCache may be nil.
func New(idx Index, queryCache *cache.QueryCache, maxKeywords int) *Handler {
	return &Handler{
		index:       idx,
		cache:       queryCache,
		maxKeywords: maxKeywords,
		logger:      logger.WithComponent("search-handler"),
	}
}

// DocumentRequest is the body of document writes.
type DocumentRequest struct {
	ID      string            `json:"id"`
	Comment string            `json:"comment"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type documentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// AddDocument serves POST /api/v1/documents. The comment is indexed as a
// new entry even if the id is already present.
func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	doc := index.Document{ID: req.ID, Comment: req.Comment, Fields: req.Fields}
	if err := validator.ValidateDocument(doc); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.index.IndexFields(r.Context(), doc); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, documentResponse{ID: doc.ID, Status: "indexed"})
}

// PutDocument serves PUT /api/v1/documents/{id}, replacing every entry for
// the id.
func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if req.ID != "" && req.ID != id {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "body id does not match path"))
		return
	}
	doc := index.Document{ID: id, Comment: req.Comment, Fields: req.Fields}
	if err := validator.ValidateDocument(doc); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.index.ReplaceFields(r.Context(), doc); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, documentResponse{ID: id, Status: "indexed"})
}

// DeleteDocument serves DELETE /api/v1/documents/{id}. Unknown ids succeed.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validator.ValidateID(id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.index.DeleteDocument(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SearchKeywords serves POST /api/v1/search. The body is a JSON array of
// keywords, or an object with a "keywords" array; the response is the
// array of matching ids, best first.
func (h *Handler) SearchKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := decodeKeywords(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.maxKeywords > 0 && len(keywords) > h.maxKeywords {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "at most %d keywords are allowed", h.maxKeywords))
		return
	}
	ids, err := h.index.Search(r.Context(), keywords)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ids)
}

// Search serves GET /api/v1/search?q=&limit=&boolean=. It returns scored
// hits and the generation they were computed from.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := params.Get("q")

	limit := 0
	if s := params.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	boolean := false
	if s := params.Get("boolean"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "boolean must be true or false"))
			return
		}
		boolean = b
	}

	var (
		res *commentindex.SearchResult
		err error
	)
	if boolean {
		res, err = h.index.SearchBoolean(r.Context(), q, limit)
	} else {
		res, err = h.index.SearchHits(r.Context(), q, limit)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// Stats serves GET /api/v1/index/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.index.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Merge serves POST /api/v1/index/merge.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	gen, err := h.index.Merge(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]uint64{"generation": gen})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body: %v", err)
	}
	return nil
}

func decodeKeywords(r *http.Request) ([]string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.IO("reading request body", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var req struct {
			Keywords []string `json:"keywords"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body: %v", err)
		}
		return req.Keywords, nil
	}
	var keywords []string
	if err := json.Unmarshal(body, &keywords); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "body must be a JSON array of keywords: %v", err)
	}
	return keywords, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to a status code. Client errors carry their message;
// server errors are logged and reported generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	body := map[string]any{"error": err.Error()}
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		status = http.StatusBadRequest
		body["fields"] = verr.Fields
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body = map[string]any{"error": http.StatusText(status)}
	}
	h.writeJSON(w, status, body)
}
