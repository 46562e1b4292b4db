package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/review"
	"github.com/sells-group/portal-resolver/internal/store"
	"github.com/sells-group/portal-resolver/internal/tiers"
)

// Sweep kinds accepted by POST /sweeps/{kind}.
const (
	SweepSeed   = "seed"
	SweepSearch = "search"
	SweepCrawl  = "crawl"
	SweepParse  = "parse"
	SweepVerify = "verify"
)

// errBadRequest marks caller mistakes caught in the handlers.
var errBadRequest = eris.New("api: bad request")

func badRequest(format string, args ...any) error {
	return eris.Wrapf(errBadRequest, format, args...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	force, err := boolParam(r, "force")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.resolver.Resolve(r.Context(), chi.URLParam(r, "geoid"), force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	size, err := intParam(r, "size", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := RunSweep(r.Context(), s.batch, s.verifier, chi.URLParam(r, "kind"), size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// RunSweep dispatches one sweep by kind. Size 0 uses the component default.
func RunSweep(ctx context.Context, b Batch, v Verifier, kind string, size int) (any, error) {
	switch kind {
	case SweepSeed:
		n, err := b.Seed(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"inserted": n}, nil
	case SweepSearch:
		return b.SearchSweep(ctx, size)
	case SweepCrawl:
		return b.CrawlSweep(ctx, size)
	case SweepParse:
		return b.ParseSweep(ctx, size)
	case SweepVerify:
		return v.Sweep(ctx, size)
	default:
		return nil, badRequest("unknown sweep kind %q", kind)
	}
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	n, err := s.batch.ClassifyEndpoints(r.Context(), chi.URLParam(r, "geoid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"inserted": n})
}

func (s *Server) handleFreshness(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	geoid, url := strings.TrimSpace(q.Get("geoid")), strings.TrimSpace(q.Get("url"))
	if geoid == "" || url == "" {
		writeError(w, badRequest("geoid and url are required"))
		return
	}
	rep, err := s.batch.Freshness(r.Context(), geoid, url)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleReviewList(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	perPage, err := intParam(r, "per_page", review.DefaultPerPage)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.review.List(r.Context(), page, perPage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	o, err := decodeOverrides(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.review.Approve(r.Context(), chi.URLParam(r, "id"), o)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	o, err := decodeOverrides(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.review.Reject(r.Context(), chi.URLParam(r, "id"), o)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// decodeOverrides reads an optional JSON body.
func decodeOverrides(r *http.Request) (review.Overrides, error) {
	var o review.Overrides
	if r.Body == nil {
		return o, nil
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return o, badRequest("invalid request body: %v", err)
	}
	return o, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", name)
	}
	return n, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("%s must be true or false", name)
	}
	return b, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, tiers.ErrInvalidJurisdiction),
		errors.Is(err, review.ErrInvalidOverride):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}
