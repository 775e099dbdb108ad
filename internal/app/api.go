package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/segmentio/encoding/json"
	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/extract"
	"github.com/sha1n/relic-search/internal/search"
	"github.com/spf13/cast"
)

// Query string prefixes for GET /api/search filters, e.g. filter.status=Open
// or like.owner=ali. Repeat a key to allow several values.
const (
	exactFilterPrefix = "filter."
	likeFilterPrefix  = "like."
)

var errBadRequest = errors.New("bad request")

type api struct {
	engine Engine
	logger *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type documentResponse struct {
	SourceType string `json:"source_type"`
	ID         string `json:"id"`
	Outcome    string `json:"outcome"`
}

// search handles GET and POST /api/search.
func (a *api) search(w http.ResponseWriter, r *http.Request) {
	req, err := searchRequest(r)
	if err != nil {
		a.handleError(w, err)
		return
	}
	resp, err := a.engine.Search(r.Context(), req)
	if err != nil {
		a.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// build handles POST /api/index/build. It blocks until the build completes.
func (a *api) build(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.BuildIndex(r.Context())
	if err != nil {
		a.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// status handles GET /api/index/status.
func (a *api) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Status())
}

// indexDocument handles PUT /api/documents/{sourceType}/{id}.
func (a *api) indexDocument(w http.ResponseWriter, r *http.Request) {
	sourceType, id := chi.URLParam(r, "sourceType"), chi.URLParam(r, "id")
	outcome, err := a.engine.IndexDoc(r.Context(), sourceType, id)
	if err != nil {
		a.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{SourceType: sourceType, ID: id, Outcome: outcome.String()})
}

// removeDocument handles DELETE /api/documents/{sourceType}/{id}.
func (a *api) removeDocument(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.RemoveDoc(r.Context(), chi.URLParam(r, "sourceType"), chi.URLParam(r, "id")); err != nil {
		a.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func searchRequest(r *http.Request) (search.Request, error) {
	var req search.Request
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("%w: invalid request body: %w", errBadRequest, err)
		}
		return req, nil
	}

	q := r.URL.Query()
	req.Query = q.Get("q")
	if v := q.Get("title_only"); v != "" {
		titleOnly, err := cast.ToBoolE(v)
		if err != nil {
			return req, fmt.Errorf("%w: invalid title_only: %q", errBadRequest, v)
		}
		req.TitleOnly = titleOnly
	}

	for key, values := range q {
		var field string
		var f domain.Filter
		switch {
		case strings.HasPrefix(key, exactFilterPrefix):
			field, f = strings.TrimPrefix(key, exactFilterPrefix), domain.In(values...)
		case strings.HasPrefix(key, likeFilterPrefix):
			field, f = strings.TrimPrefix(key, likeFilterPrefix), domain.Like(values...)
		default:
			continue
		}
		if req.Filters == nil {
			req.Filters = make(domain.Filters)
		}
		if _, dup := req.Filters[field]; dup {
			return req, fmt.Errorf("%w: field %q has both exact and like filters", errBadRequest, field)
		}
		req.Filters[field] = f
	}
	return req, nil
}

// handleError maps engine errors to HTTP status codes.
func (a *api) handleError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, search.ErrUnknownFilterField),
		errors.Is(err, search.ErrInvalidFilterValue),
		errors.Is(err, extract.ErrUnknownSourceType):
		status = http.StatusBadRequest
	case errors.Is(err, search.ErrIndexMissing):
		status = http.StatusNotFound
	case errors.Is(err, search.ErrBuildInProgress):
		status = http.StatusConflict
	case errors.Is(err, search.ErrSearchUnavailable), errors.Is(err, search.ErrSearchDisabled):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		a.logger.Error("Request failed", "error", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	a.logger.Warn("Request rejected", "status", status, "error", err)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
