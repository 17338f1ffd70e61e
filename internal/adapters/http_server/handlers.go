package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"guest_reviews/internal/adapters/observability"
	"guest_reviews/internal/app"
	"guest_reviews/internal/cache"
	"guest_reviews/internal/domain"
)

const maxBodyBytes = 1 << 20

// CacheAdmin is the operator surface of the review cache.
type CacheAdmin interface {
	Invalidate(ctx context.Context, sel cache.Selector) (int, error)
	Reset(ctx context.Context) (int, error)
	Stats() observability.CacheSnapshot
}

type Handlers struct {
	Reviews   *app.ReviewService
	Approvals *app.ApprovalService
	Health    *app.HealthService
	Cache     CacheAdmin
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/v1/health", h.health)
	s.mux.Get("/v1/metrics/summary", h.metricsSummary)
	s.mux.Post("/v1/metrics/reset", h.metricsReset)

	s.mux.Route("/v1/reviews", func(r chi.Router) {
		r.Get("/", h.listStoredReviews)
		r.Get("/upstream", h.listReviews)
		r.Get("/stats", h.stats)
		r.Post("/approval/bulk", h.bulkApproval)
		r.Get("/{id}", h.getReview)
		r.Get("/{id}/history", h.history)
		r.Patch("/{id}/approval", h.setApproval)
	})

	s.mux.Get("/v1/cache/stats", h.cacheStats)
	s.mux.Post("/v1/cache/invalidate", h.cacheInvalidate)
	s.mux.Post("/v1/cache/reset", h.cacheReset)
}

// ---- responses ----

func statusOf(code string) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeNormalization:
		return http.StatusUnprocessableEntity
	case domain.CodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeProblem(w http.ResponseWriter, status int, code, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Code: code, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps err to its stable code; internal details are logged, not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	status := statusOf(code)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		detail = ""
	}
	writeProblem(w, status, code, http.StatusText(status), detail)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// writeTagged writes v with an ETag, answering 304 when the client already
// holds this version.
func writeTagged(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if body == nil {
		writeProblem(w, http.StatusInternalServerError, domain.CodeInternal, "Internal Server Error", "")
		return
	}
	w.Header().Set("ETag", etag)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("failed to write body")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("body", "malformed JSON: "+err.Error())
	}
	return nil
}

// ---- health & metrics ----

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	rep := h.Health.Check(r.Context())
	status := http.StatusOK
	if rep.Status == app.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

func (h *Handlers) metricsSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Health.Metrics())
}

func (h *Handlers) metricsReset(w http.ResponseWriter, r *http.Request) {
	h.Health.ResetMetrics()
	writeJSON(w, http.StatusOK, h.Health.Metrics())
}

// ---- reviews ----

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	q, err := domain.ParseReviewQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, status, err := h.Reviews.ListReviews(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("X-Cache", string(status))
	writeTagged(w, r, page)
}

func (h *Handlers) listStoredReviews(w http.ResponseWriter, r *http.Request) {
	q, err := domain.ParseReviewQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.Reviews.ListStoredReviews(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeTagged(w, r, page)
}

func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	q, err := domain.ParseReviewQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, status, err := h.Reviews.GetStats(r.Context(), q.Filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("X-Cache", string(status))
	writeTagged(w, r, st)
}

func (h *Handlers) getReview(w http.ResponseWriter, r *http.Request) {
	rv, err := h.Reviews.GetReview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeTagged(w, r, rv)
}

func (h *Handlers) history(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Approvals.GetApprovalHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviewId": chi.URLParam(r, "id"), "entries": entries})
}

// ---- approval ----

type approvalRequest struct {
	Approved *bool   `json:"approved"`
	Response *string `json:"response"`
}

type bulkApprovalRequest struct {
	IDs      []string `json:"ids"`
	Approved *bool    `json:"approved"`
	Response *string  `json:"response"`
}

func (h *Handlers) setApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Approved == nil {
		writeError(w, r, domain.NewValidationError("approved", "is required"))
		return
	}
	rv, err := h.Approvals.SetApproval(r.Context(), chi.URLParam(r, "id"), *req.Approved, req.Response)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

func (h *Handlers) bulkApproval(w http.ResponseWriter, r *http.Request) {
	var req bulkApprovalRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Approved == nil {
		writeError(w, r, domain.NewValidationError("approved", "is required"))
		return
	}
	res, err := h.Approvals.BulkSetApproval(r.Context(), req.IDs, *req.Approved, req.Response)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---- cache admin ----

type invalidateRequest struct {
	Key       string `json:"key"`
	ListingID *int64 `json:"listingId"`
	Pattern   string `json:"pattern"`
}

func (h *Handlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}

func (h *Handlers) cacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.Cache.Invalidate(r.Context(), cache.Selector{Key: req.Key, ListingID: req.ListingID, Pattern: req.Pattern})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *Handlers) cacheReset(w http.ResponseWriter, r *http.Request) {
	n, err := h.Cache.Reset(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}
