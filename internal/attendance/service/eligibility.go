package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"rotaclock/internal/attendance/models"
	"rotaclock/internal/attendance/rules"
	dErrors "rotaclock/pkg/domain-errors"
	"rotaclock/pkg/platform/sentinel"
)

// CheckEligibility reports whether the student's program may be placed at the
// site. A student without a program is ineligible rather than an error.
func (s *Service) CheckEligibility(ctx context.Context, studentID, siteID string) (*rules.Eligibility, error) {
	if studentID == "" || siteID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "studentId and siteId are required")
	}

	var (
		site    *models.ClinicalSite
		program *models.Program
		active  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		site, err = s.catalog.FindSite(gctx, siteID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "site not found").With("site_id", siteID)
		}
		return err
	})
	g.Go(func() error {
		student, err := s.catalog.FindStudent(gctx, studentID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		program, err = s.catalog.FindProgram(gctx, student.ProgramID)
		if errors.Is(err, sentinel.ErrNotFound) {
			program = nil
			return nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		active, err = s.catalog.CountRotationsAtSite(gctx, siteID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, storeError(err, "failed to load eligibility inputs")
	}

	result := rules.EvaluateEligibility(program, site, active)
	return &result, nil
}

// FindActiveRotation resolves the rotation a clock-in at the site would be
// attributed to.
func (s *Service) FindActiveRotation(ctx context.Context, studentID, siteID string, at time.Time) (*models.Rotation, error) {
	if studentID == "" || siteID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "studentId and siteId are required")
	}
	site, err := s.catalog.FindSite(ctx, siteID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "site not found").With("site_id", siteID)
		}
		return nil, storeError(err, "failed to load site")
	}
	rotation, err := s.selectRotation(ctx, studentID, siteID, at.In(site.Zone()))
	if err != nil {
		return nil, err
	}
	if rotation == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "no active rotation")
	}
	return rotation, nil
}
