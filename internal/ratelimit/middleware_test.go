package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"rotaclock/pkg/testutil"
)

type fakeStore struct {
	results []Result
	err     error
	keys    []string
}

func (f *fakeStore) Allow(_ context.Context, key string, limit int, _ time.Duration) (Result, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return Result{}, f.err
	}
	res := f.results[0]
	f.results = f.results[1:]
	res.Limit = limit
	return res, nil
}

type MiddlewareSuite struct {
	suite.Suite
	store   *fakeStore
	metrics *Metrics
	handler http.Handler
	called  int
}

func TestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareSuite))
}

func (s *MiddlewareSuite) SetupTest() {
	s.store = &fakeStore{}
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.called = 0
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.called++
		w.WriteHeader(http.StatusNoContent)
	})
	s.handler = New(s.store, WithMetrics(s.metrics)).Limit("clock", 5, time.Minute)(next)
}

func (s *MiddlewareSuite) SetupSubTest() {
	s.SetupTest()
}

func (s *MiddlewareSuite) serve(decorate ...func(*http.Request) *http.Request) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/clock-in", nil)
	for _, d := range decorate {
		req = d(req)
	}
	return testutil.DoRequest(s.handler, req)
}

func (s *MiddlewareSuite) TestLimit() {
	s.Run("allowed request passes through with headers", func() {
		s.store.results = []Result{{Allowed: true, Remaining: 4, ResetAt: time.Unix(1700000000, 0)}}
		rec := s.serve()

		s.Equal(http.StatusNoContent, rec.Code)
		s.Equal(1, s.called)
		s.Equal("5", rec.Header().Get("X-RateLimit-Limit"))
		s.Equal("4", rec.Header().Get("X-RateLimit-Remaining"))
		s.Equal("1700000000", rec.Header().Get("X-RateLimit-Reset"))
		s.Equal(1.0, promtestutil.ToFloat64(s.metrics.Decisions.WithLabelValues("clock", "allowed")))
	})

	s.Run("limited request gets 429", func() {
		s.store.results = []Result{{Allowed: false, ResetAt: time.Now().Add(30 * time.Second)}}
		rec := s.serve()

		env := testutil.RequireErrorCode(s.T(), rec, http.StatusTooManyRequests, "rate_limited")
		s.Zero(s.called)
		s.NotEmpty(rec.Header().Get("Retry-After"))
		s.Contains(env.Error.Context, "retry_after_seconds")
		s.Equal(1.0, promtestutil.ToFloat64(s.metrics.Decisions.WithLabelValues("clock", "limited")))
	})

	s.Run("store failure lets the request through", func() {
		s.store.err = errors.New("redis down")
		rec := s.serve()

		s.Equal(http.StatusNoContent, rec.Code)
		s.Equal(1, s.called)
		s.Equal(1.0, promtestutil.ToFloat64(s.metrics.Decisions.WithLabelValues("clock", "error")))
	})

	s.Run("keys by subject when authenticated", func() {
		s.store.results = []Result{{Allowed: true}}
		s.serve(
			func(r *http.Request) *http.Request { return testutil.WithSubject(r, "stu-1", "student") },
			func(r *http.Request) *http.Request { return testutil.WithDevice(r, "10.0.0.1", "ua") },
		)
		s.Equal([]string{"clock:sub:stu-1"}, s.store.keys)
	})

	s.Run("keys by client IP when anonymous", func() {
		s.store.results = []Result{{Allowed: true}}
		s.serve(func(r *http.Request) *http.Request { return testutil.WithDevice(r, "10.0.0.1", "ua") })
		s.Equal([]string{"clock:ip:10.0.0.1"}, s.store.keys)
	})
}
