package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rotaclock/internal/attendance/models"
	"rotaclock/pkg/platform/sentinel"
)

func TestInMemoryStore_Lookups(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	s.PutSite(models.ClinicalSite{ID: "site-1", Name: "Mercy General", Capacity: 2})
	s.PutProgram(models.Program{ID: "prog-1", Requirements: []string{"BLS"}})
	s.PutStudent(models.Student{ID: "stu-1", ProgramID: "prog-1"})

	site, err := s.FindSite(ctx, "site-1")
	require.NoError(t, err)
	assert.Equal(t, "Mercy General", site.Name)

	site.Name = "changed"
	again, err := s.FindSite(ctx, "site-1")
	require.NoError(t, err)
	assert.Equal(t, "Mercy General", again.Name, "callers receive copies")

	_, err = s.FindSite(ctx, "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = s.FindProgram(ctx, "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = s.FindStudent(ctx, "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = s.FindRotation(ctx, "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_Rotations(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	s.PutRotation(models.Rotation{ID: "r2", StudentID: "stu-1", SiteID: "site-1", Status: models.RotationActive})
	s.PutRotation(models.Rotation{ID: "r1", StudentID: "stu-1", SiteID: "site-1", Status: models.RotationCancelled})
	s.PutRotation(models.Rotation{ID: "r3", StudentID: "stu-2", SiteID: "site-1", Status: models.RotationCompleted})
	s.PutRotation(models.Rotation{ID: "r4", StudentID: "stu-1", SiteID: "site-2", Status: models.RotationScheduled})

	list, err := s.ListRotations(ctx, "stu-1", "site-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r1", list[0].ID)
	assert.Equal(t, "r2", list[1].ID)

	n, err := s.CountRotationsAtSite(ctx, "site-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "cancelled rotations do not count")
}

func TestInMemoryStore_AddCompletedHours(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	s.PutStudent(models.Student{ID: "stu-1", CompletedHours: 10})

	require.NoError(t, s.AddCompletedHours(ctx, "stu-1", 7.5))
	st, err := s.FindStudent(ctx, "stu-1")
	require.NoError(t, err)
	assert.InDelta(t, 17.5, st.CompletedHours, 1e-9)

	assert.ErrorIs(t, s.AddCompletedHours(ctx, "nobody", 1), sentinel.ErrNotFound)
}

func TestInMemoryStore_ListSites(t *testing.T) {
	s := NewInMemory()
	s.PutSite(models.ClinicalSite{ID: "site-b"})
	s.PutSite(models.ClinicalSite{ID: "site-a"})

	sites, err := s.ListSites(context.Background())
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "site-a", sites[0].ID)
	assert.Equal(t, "site-b", sites[1].ID)
}
