package service

import (
	"context"
	"strings"

	"github.com/mssola/useragent"
	"go.uber.org/zap"

	"rotaclock/internal/attendance/models"
)

// enrich starts a background facility lookup for a committed record and
// returns at once. The lookup is bounded by facilityTimeout and only updates
// the stored record; failures are logged and never surfaced.
func (s *Service) enrich(ctx context.Context, rec *models.ClockRecord) {
	if s.facility == nil || rec.Metadata.ClockIn == nil || rec.Metadata.ClockIn.Coordinate == nil {
		return
	}
	recordID, coord := rec.ID, *rec.Metadata.ClockIn.Coordinate
	ctx = context.WithoutCancel(ctx)

	s.enrichments.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, s.facilityTimeout)
		defer cancel()
		s.attachFacility(ctx, recordID, coord)
	})
}

func (s *Service) attachFacility(ctx context.Context, recordID string, coord models.Coordinate) {
	facility, err := s.facility.LookupFacility(ctx, coord)
	if err != nil {
		s.logger.Warn("facility lookup failed",
			zap.String("record_id", recordID),
			zap.Error(err),
		)
		return
	}
	if facility == nil {
		return
	}
	if err := s.records.SetFacility(ctx, recordID, facility); err != nil {
		s.logger.Warn("failed to store facility",
			zap.String("record_id", recordID),
			zap.Error(err),
		)
	}
}

// Drain waits for in-flight facility lookups, or until ctx is done.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.enrichments.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deviceLabel condenses a User-Agent header into "browser/os", with a
// mobile or bot marker when detected.
func deviceLabel(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	parts := []string{}
	if browser != "" {
		parts = append(parts, browser)
	}
	if os := ua.OS(); os != "" {
		parts = append(parts, os)
	}
	label := strings.Join(parts, "/")
	switch {
	case ua.Bot():
		label += " (bot)"
	case ua.Mobile():
		label += " (mobile)"
	}
	return strings.TrimSpace(label)
}
