package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/service"
	"erplite/backend/internal/store"
)

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrConcurrencyConflict),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, service.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry internal details.
	if status >= http.StatusInternalServerError {
		writeJSON(w, status, map[string]any{"error": "internal server error"})
		return
	}

	body := map[string]any{"error": err.Error()}
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		body["error"] = "invalid input"
		body["violations"] = verr.Violations
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return &service.ValidationError{Violations: service.Violations{"body": "malformed_json"}}
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseListFilter reads from, to, limit and offset. Dates are YYYY-MM-DD or
// RFC3339; a bare date in to covers that whole day.
func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	query := r.URL.Query()
	violations := service.Violations{}
	filter := domain.ListFilter{
		Limit:  parsePositiveLimit(query.Get("limit"), 100, 500),
		Offset: parsePositiveLimit(query.Get("offset"), 0, 0),
	}
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		from, _, err := parseTime(raw)
		if err != nil {
			violations["from"] = "invalid_date"
		} else {
			filter.From = &from
		}
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		to, dateOnly, err := parseTime(raw)
		if err != nil {
			violations["to"] = "invalid_date"
		} else {
			if dateOnly {
				to = to.AddDate(0, 0, 1)
			}
			filter.To = &to
		}
	}
	if len(violations) > 0 {
		return domain.ListFilter{}, &service.ValidationError{Violations: violations}
	}
	return filter, nil
}

func parseTime(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), true, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	return t.UTC(), false, err
}
