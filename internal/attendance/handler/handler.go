// Package handler exposes the attendance engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"rotaclock/internal/attendance/export"
	"rotaclock/internal/attendance/models"
	"rotaclock/internal/attendance/rules"
	"rotaclock/internal/attendance/service"
	jwttoken "rotaclock/internal/jwt_token"
	"rotaclock/internal/platform/metrics"
	"rotaclock/internal/platform/middleware"
	"rotaclock/internal/ratelimit"
	dErrors "rotaclock/pkg/domain-errors"
	"rotaclock/pkg/platform/httputil"
	"rotaclock/pkg/platform/middleware/auth"
	"rotaclock/pkg/platform/middleware/metadata"
	"rotaclock/pkg/platform/middleware/requesttime"
	"rotaclock/pkg/requestcontext"
)

// Service is the attendance engine as seen by the HTTP layer.
type Service interface {
	ClockIn(ctx context.Context, req service.ClockInRequest) (*models.ClockRecord, error)
	ClockOut(ctx context.Context, req service.ClockOutRequest) (*models.ClockRecord, error)
	Report(ctx context.Context, studentID string, from, to time.Time) (*service.AttendanceReport, error)
	CheckEligibility(ctx context.Context, studentID, siteID string) (*rules.Eligibility, error)
	RotationProgress(ctx context.Context, rotationID string) (*service.Progress, error)
}

const defaultRequestTimeout = 30 * time.Second

// Handler serves the attendance endpoints.
type Handler struct {
	svc            Service
	logger         *zap.Logger
	metrics        *metrics.Metrics
	jwtValidator   auth.JWTValidator
	validate       *validator.Validate
	requestTimeout time.Duration
	clockLimit     func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithAuth requires a bearer token on every route.
func WithAuth(v auth.JWTValidator) Option {
	return func(h *Handler) {
		h.jwtValidator = v
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

// WithClockRateLimit throttles clock-in and clock-out per caller.
func WithClockRateLimit(limiter *ratelimit.Middleware, perWindow int, window time.Duration) Option {
	return func(h *Handler) {
		if limiter != nil && perWindow > 0 {
			h.clockLimit = limiter.Limit("clock", perWindow, window)
		}
	}
}

// New creates a Handler.
func New(svc Service, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		svc:            svc,
		logger:         logger,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the attendance routes on r.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(requesttime.Middleware)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(h.requestTimeout))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(metadata.ClientMetadata)
	if h.jwtValidator != nil {
		router.Use(auth.RequireAuth(h.jwtValidator, h.logger))
	}

	router.Group(func(r chi.Router) {
		if h.clockLimit != nil {
			r.Use(h.clockLimit)
		}
		r.Post("/clock-in", h.handleClockIn)
		r.Post("/clock-out", h.handleClockOut)
	})
	router.Get("/report", h.handleReport)
	router.Get("/report.xlsx", h.handleReportXLSX)
	router.Get("/eligibility", h.handleEligibility)
	router.Get("/rotations/{id}/progress", h.handleRotationProgress)

	r.Mount("/", router)
}

type coordinateRequest struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

// capture builds the pre-captured location. Accuracy and source without a
// coordinate carry no information and are dropped.
func capture(coord *coordinateRequest, accuracy *float64, source string) *models.LocationCapture {
	if coord == nil {
		return nil
	}
	return &models.LocationCapture{
		Coordinate:     &models.Coordinate{Lat: *coord.Lat, Lon: *coord.Lon},
		AccuracyMeters: accuracy,
		Source:         source,
	}
}

type clockInRequest struct {
	StudentID  string             `json:"studentId" validate:"required,max=64"`
	SiteID     string             `json:"siteId" validate:"required,max=64"`
	Timestamp  string             `json:"timestamp"`
	Coordinate *coordinateRequest `json:"coordinate"`
	Accuracy   *float64           `json:"accuracy" validate:"omitempty,gte=0"`
	Source     string             `json:"source" validate:"max=32"`
	Notes      string             `json:"notes" validate:"max=1000"`
}

type clockOutRequest struct {
	StudentID  string             `json:"studentId" validate:"required,max=64"`
	Timestamp  string             `json:"timestamp"`
	Coordinate *coordinateRequest `json:"coordinate"`
	Accuracy   *float64           `json:"accuracy" validate:"omitempty,gte=0"`
	Source     string             `json:"source" validate:"max=32"`
}

type clockInResponse struct {
	OK       bool   `json:"ok"`
	RecordID string `json:"recordId"`
}

type clockOutResponse struct {
	OK         bool    `json:"ok"`
	RecordID   string  `json:"recordId"`
	TotalHours float64 `json:"totalHours"`
}

func (h *Handler) handleClockIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req clockInRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := authorize(ctx, req.StudentID); err != nil {
		h.fail(w, r, err)
		return
	}
	at, err := parseTimestamp(ctx, req.Timestamp)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rec, err := h.svc.ClockIn(ctx, service.ClockInRequest{
		StudentID: req.StudentID,
		SiteID:    req.SiteID,
		At:        at,
		Location:  capture(req.Coordinate, req.Accuracy, req.Source),
		Notes:     strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, clockInResponse{OK: true, RecordID: rec.ID})
}

func (h *Handler) handleClockOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req clockOutRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := authorize(ctx, req.StudentID); err != nil {
		h.fail(w, r, err)
		return
	}
	at, err := parseTimestamp(ctx, req.Timestamp)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rec, err := h.svc.ClockOut(ctx, service.ClockOutRequest{
		StudentID: req.StudentID,
		At:        at,
		Location:  capture(req.Coordinate, req.Accuracy, req.Source),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := clockOutResponse{OK: true, RecordID: rec.ID}
	if rec.TotalHours != nil {
		resp.TotalHours = *rec.TotalHours
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.loadReport(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleReportXLSX(w http.ResponseWriter, r *http.Request) {
	report, err := h.loadReport(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	buf, err := export.XLSX(report)
	if err != nil {
		h.fail(w, r, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render report"))
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(report)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) loadReport(r *http.Request) (*service.AttendanceReport, error) {
	ctx := r.Context()
	q := r.URL.Query()
	studentID := q.Get("studentId")
	if studentID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "studentId is required")
	}
	if err := authorize(ctx, studentID); err != nil {
		return nil, err
	}
	from, _, err := parseBound(q.Get("from"), "from")
	if err != nil {
		return nil, err
	}
	to, dateOnly, err := parseBound(q.Get("to"), "to")
	if err != nil {
		return nil, err
	}
	if dateOnly {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	return h.svc.Report(ctx, studentID, from, to)
}

func (h *Handler) handleEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	studentID := r.URL.Query().Get("studentId")
	siteID := r.URL.Query().Get("siteId")
	if studentID == "" || siteID == "" {
		h.fail(w, r, dErrors.New(dErrors.CodeBadRequest, "studentId and siteId are required"))
		return
	}
	if err := authorize(ctx, studentID); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.svc.CheckEligibility(ctx, studentID, siteID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRotationProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	progress, err := h.svc.RotationProgress(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := authorize(ctx, progress.StudentID); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, progress)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) && !dErrors.HasCode(err, dErrors.CodeTimeout) {
		err = dErrors.Wrap(err, dErrors.CodeTimeout, "request timed out")
	}
	httputil.LogError(h.logger.With(zap.String("request_id", requestcontext.RequestID(r.Context()))), r, err)
	httputil.WriteError(w, err)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
	}
	first := verrs[0]
	return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s failed %q", first.Namespace(), first.Tag())).
		With("field", first.Field())
}

// authorize lets a student act only for themselves. Coordinators act for
// anyone, as do unauthenticated deployments.
func authorize(ctx context.Context, studentID string) error {
	subject := requestcontext.Subject(ctx)
	if subject == "" || subject == studentID {
		return nil
	}
	if requestcontext.Role(ctx) == jwttoken.RoleCoordinator {
		return nil
	}
	return dErrors.New(dErrors.CodeForbidden, "cannot act for another student")
}

// parseTimestamp reads an RFC 3339 timestamp, defaulting to the request time.
func parseTimestamp(ctx context.Context, raw string) (time.Time, error) {
	if raw == "" {
		return requestcontext.Now(ctx), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeBadRequest, "timestamp must be RFC 3339")
	}
	return t, nil
}

// parseBound accepts RFC 3339 or a calendar date. The bool reports a
// calendar date. An empty value is an open bound and yields the zero time.
func parseBound(raw, name string) (time.Time, bool, error) {
	if raw == "" {
		return time.Time{}, false, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, false, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, dErrors.New(dErrors.CodeBadRequest, name+" must be RFC 3339 or YYYY-MM-DD")
}
