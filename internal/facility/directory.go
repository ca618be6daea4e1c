package facility

import (
	"context"
	"fmt"

	"rotaclock/internal/attendance/geo"
	"rotaclock/internal/attendance/models"
)

// SiteLister lists registered clinical sites.
type SiteLister interface {
	ListSites(ctx context.Context) ([]*models.ClinicalSite, error)
}

const defaultMatchRadius = 500.0

// Directory resolves a coordinate to the nearest registered site within
// matchRadius meters. Confidence falls linearly from 1 at the site's
// coordinate to 0 at the edge of the match radius.
type Directory struct {
	sites       SiteLister
	matchRadius float64
}

// NewDirectory builds a Directory. A non-positive radius uses 500 m.
func NewDirectory(sites SiteLister, matchRadius float64) *Directory {
	if matchRadius <= 0 {
		matchRadius = defaultMatchRadius
	}
	return &Directory{sites: sites, matchRadius: matchRadius}
}

func (d *Directory) Lookup(ctx context.Context, coord models.Coordinate) (*models.Facility, error) {
	sites, err := d.sites.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}

	var (
		nearest  *models.ClinicalSite
		distance float64
	)
	for _, site := range sites {
		if site.Location == nil {
			continue
		}
		dist := geo.Haversine(site.Location.Lat, site.Location.Lon, coord.Lat, coord.Lon)
		if dist > d.matchRadius {
			continue
		}
		if nearest == nil || dist < distance {
			nearest, distance = site, dist
		}
	}
	if nearest == nil {
		return nil, nil
	}
	return &models.Facility{
		Name:       nearest.Name,
		Address:    fmt.Sprintf("%.5f, %.5f", nearest.Location.Lat, nearest.Location.Lon),
		Confidence: geo.RoundHalfUp(1-distance/d.matchRadius, 2),
	}, nil
}
