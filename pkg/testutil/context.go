package testutil

import (
	"net/http"
	"time"

	"rotaclock/pkg/requestcontext"
)

// WithSubject marks the request as authenticated, as the auth middleware
// would after verifying a bearer token.
func WithSubject(req *http.Request, subject, role string) *http.Request {
	return req.WithContext(requestcontext.WithSubject(req.Context(), subject, role))
}

// WithRequestTime pins the request clock.
func WithRequestTime(req *http.Request, at time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), at))
}

// WithDevice attaches client metadata as the metadata middleware would.
func WithDevice(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}
