// Package httputil writes JSON responses and maps coded errors to HTTP
// statuses.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	dErrors "rotaclock/pkg/domain-errors"
)

// ErrorBody is the error envelope returned for every failed request.
type ErrorBody struct {
	OK    bool        `json:"ok"`
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeBadRequest:         http.StatusBadRequest,
	dErrors.CodeValidation:         http.StatusBadRequest,
	dErrors.CodeNotFound:           http.StatusNotFound,
	dErrors.CodeConflict:           http.StatusConflict,
	dErrors.CodeUnauthorized:       http.StatusUnauthorized,
	dErrors.CodeForbidden:          http.StatusForbidden,
	dErrors.CodeRateLimited:        http.StatusTooManyRequests,
	dErrors.CodeInvariantViolation: http.StatusBadRequest,
	dErrors.CodeTimeout:            http.StatusGatewayTimeout,
	dErrors.CodeUnavailable:        http.StatusServiceUnavailable,
	dErrors.CodeInternal:           http.StatusInternalServerError,
}

var statusByCategory = map[dErrors.Category]int{
	dErrors.CategoryValidation:    http.StatusUnprocessableEntity,
	dErrors.CategoryStateConflict: http.StatusConflict,
	dErrors.CategoryBusinessLimit: http.StatusUnprocessableEntity,
}

// StatusFor returns the HTTP status for a code.
func StatusFor(code dErrors.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	if status, ok := statusByCategory[code.Category()]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into the error envelope. Foreign errors and
// internal errors never leak their message.
func WriteError(w http.ResponseWriter, err error) {
	de, ok := dErrors.As(err)
	if !ok {
		if errors.Is(err, http.ErrHandlerTimeout) {
			de = dErrors.New(dErrors.CodeTimeout, "request timed out")
		} else {
			de = dErrors.New(dErrors.CodeInternal, "")
		}
	}

	detail := ErrorDetail{Code: string(de.Code)}
	if de.Code != dErrors.CodeInternal {
		detail.Message = de.Message
		detail.Context = de.Context
	}
	WriteJSON(w, StatusFor(de.Code), ErrorBody{OK: false, Error: detail})
}

// LogError logs err at a level matching its category.
func LogError(logger *zap.Logger, r *http.Request, err error) {
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("code", string(dErrors.CodeOf(err))),
		zap.Error(err),
	}
	if dErrors.CodeOf(err).Category() == dErrors.CategorySystem {
		logger.Error("request failed", fields...)
		return
	}
	logger.Info("request rejected", fields...)
}
