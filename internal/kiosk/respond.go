// internal/kiosk/respond.go
package kiosk

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"swimdesk/internal/apperr"
	"swimdesk/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type errorBody struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	Audience string `json:"audience"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps err onto a response. Unclassified errors are logged and
// reported to the kiosk as a staff problem without their detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	body := errorBody{Error: "something went wrong, please see staff", Kind: string(apperr.KindInternal), Audience: "staff"}
	if ae, ok := apperr.As(err); ok && ae.Kind != apperr.KindInternal {
		body = errorBody{Error: ae.Message, Kind: string(ae.Kind), Audience: ae.Audience()}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

// orEmpty keeps empty lists rendering as [] rather than null.
func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.InvalidInput("malformed request body: %v", err)
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("%s is not a valid id", name)
	}
	return id, nil
}

// parseDate reads a YYYY-MM-DD field.
func parseDate(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, *s)
	if err != nil {
		return nil, apperr.InvalidInput("%s must be YYYY-MM-DD", field)
	}
	d := domain.DateOf(t)
	return &d, nil
}
