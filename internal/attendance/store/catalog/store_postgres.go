package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"rotaclock/internal/attendance/models"
	"rotaclock/pkg/platform/sentinel"
	txcontext "rotaclock/pkg/platform/tx"
)

// PostgresStore reads catalog rows. Site policy documents (rules, hours,
// slots) live in JSONB columns; requirement lists are text[].
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const siteColumns = `id, name, time_zone, capacity, accepted_requirements, specialties,
			location_lat, location_lon, radius_meters, strict_geofence,
			rules, operating_hours, slots`

func (s *PostgresStore) FindSite(ctx context.Context, id string) (*models.ClinicalSite, error) {
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+siteColumns+` FROM clinical_sites WHERE id = $1`, id)
	site, err := scanSite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find site: %w", err)
	}
	return site, nil
}

// ListSites returns every site ordered by id.
func (s *PostgresStore) ListSites(ctx context.Context) ([]*models.ClinicalSite, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx,
		`SELECT `+siteColumns+` FROM clinical_sites ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var out []*models.ClinicalSite
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		out = append(out, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return out, nil
}

func scanSite(row rowScanner) (*models.ClinicalSite, error) {
	var (
		site         models.ClinicalSite
		lat, lon     sql.NullFloat64
		rules, hours []byte
		slots        []byte
	)
	err := row.Scan(
		&site.ID, &site.Name, &site.TimeZone, &site.Capacity,
		pq.Array(&site.AcceptedRequirements), pq.Array(&site.Specialties),
		&lat, &lon, &site.RadiusMeters, &site.StrictGeofence,
		&rules, &hours, &slots,
	)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		site.Location = &models.Coordinate{Lat: lat.Float64, Lon: lon.Float64}
	}
	if err := unmarshalAll(
		jsonField{"rules", rules, &site.Rules},
		jsonField{"operating_hours", hours, &site.OperatingHours},
		jsonField{"slots", slots, &site.Slots},
	); err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *PostgresStore) FindProgram(ctx context.Context, id string) (*models.Program, error) {
	var p models.Program
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, school_id, requirements FROM programs WHERE id = $1`, id,
	).Scan(&p.ID, &p.SchoolID, pq.Array(&p.Requirements))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find program: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) FindStudent(ctx context.Context, id string) (*models.Student, error) {
	var st models.Student
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, program_id, completed_hours FROM students WHERE id = $1`, id,
	).Scan(&st.ID, &st.ProgramID, &st.CompletedHours)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &st, nil
}

const rotationColumns = `
	id, student_id, site_id, specialty, start_date, end_date, required_hours,
	schedule, status, created_at`

func (s *PostgresStore) FindRotation(ctx context.Context, id string) (*models.Rotation, error) {
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT`+rotationColumns+` FROM rotations WHERE id = $1`, id)
	r, err := scanRotation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find rotation: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListRotations(ctx context.Context, studentID, siteID string) ([]*models.Rotation, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx,
		`SELECT`+rotationColumns+` FROM rotations WHERE student_id = $1 AND site_id = $2 ORDER BY id`,
		studentID, siteID)
	if err != nil {
		return nil, fmt.Errorf("list rotations: %w", err)
	}
	defer rows.Close()

	var out []*models.Rotation
	for rows.Next() {
		r, err := scanRotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rotation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rotations: %w", err)
	}
	return out, nil
}

// CountRotationsAtSite counts non-cancelled rotations at the site.
func (s *PostgresStore) CountRotationsAtSite(ctx context.Context, siteID string) (int, error) {
	var n int
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rotations WHERE site_id = $1 AND status <> 'CANCELLED'`, siteID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rotations: %w", err)
	}
	return n, nil
}

// AddCompletedHours increments the student's counter. Inside RunInTx the
// caller holds the student's transaction-scoped advisory lock.
func (s *PostgresStore) AddCompletedHours(ctx context.Context, studentID string, hours float64) error {
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx,
		`UPDATE students SET completed_hours = completed_hours + $2 WHERE id = $1`,
		studentID, hours)
	if err != nil {
		return fmt.Errorf("add completed hours: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add completed hours: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// UpsertSite writes a site row. Used by seeding and tests.
func (s *PostgresStore) UpsertSite(ctx context.Context, site models.ClinicalSite) error {
	rules, err := json.Marshal(site.Rules)
	if err != nil {
		return fmt.Errorf("marshal site rules: %w", err)
	}
	hours, err := json.Marshal(site.OperatingHours)
	if err != nil {
		return fmt.Errorf("marshal operating hours: %w", err)
	}
	slots, err := json.Marshal(site.Slots)
	if err != nil {
		return fmt.Errorf("marshal slots: %w", err)
	}
	var lat, lon sql.NullFloat64
	if site.Location != nil {
		lat = sql.NullFloat64{Float64: site.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: site.Location.Lon, Valid: true}
	}
	_, err = txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO clinical_sites (
			id, name, time_zone, capacity, accepted_requirements, specialties,
			location_lat, location_lon, radius_meters, strict_geofence,
			rules, operating_hours, slots
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			time_zone = EXCLUDED.time_zone,
			capacity = EXCLUDED.capacity,
			accepted_requirements = EXCLUDED.accepted_requirements,
			specialties = EXCLUDED.specialties,
			location_lat = EXCLUDED.location_lat,
			location_lon = EXCLUDED.location_lon,
			radius_meters = EXCLUDED.radius_meters,
			strict_geofence = EXCLUDED.strict_geofence,
			rules = EXCLUDED.rules,
			operating_hours = EXCLUDED.operating_hours,
			slots = EXCLUDED.slots`,
		site.ID, site.Name, site.TimeZone, site.Capacity,
		pq.Array(site.AcceptedRequirements), pq.Array(site.Specialties),
		lat, lon, site.RadiusMeters, site.StrictGeofence,
		rules, hours, slots,
	)
	if err != nil {
		return fmt.Errorf("upsert site: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertProgram(ctx context.Context, p models.Program) error {
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO programs (id, school_id, requirements) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET school_id = EXCLUDED.school_id, requirements = EXCLUDED.requirements`,
		p.ID, p.SchoolID, pq.Array(p.Requirements))
	if err != nil {
		return fmt.Errorf("upsert program: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertStudent(ctx context.Context, st models.Student) error {
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO students (id, program_id, completed_hours) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET program_id = EXCLUDED.program_id`,
		st.ID, st.ProgramID, st.CompletedHours)
	if err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertRotation(ctx context.Context, r models.Rotation) error {
	schedule, err := json.Marshal(r.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	_, err = txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO rotations (`+rotationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			specialty = EXCLUDED.specialty,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			required_hours = EXCLUDED.required_hours,
			schedule = EXCLUDED.schedule,
			status = EXCLUDED.status`,
		r.ID, r.StudentID, r.SiteID, r.Specialty,
		r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02"),
		r.RequiredHours, schedule, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert rotation: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRotation(row rowScanner) (*models.Rotation, error) {
	var (
		r        models.Rotation
		schedule []byte
		status   string
	)
	if err := row.Scan(
		&r.ID, &r.StudentID, &r.SiteID, &r.Specialty, &r.StartDate, &r.EndDate,
		&r.RequiredHours, &schedule, &status, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	r.Status = models.RotationStatus(status)
	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &r.Schedule); err != nil {
			return nil, fmt.Errorf("unmarshal schedule: %w", err)
		}
	}
	return &r, nil
}

type jsonField struct {
	name string
	raw  []byte
	dest any
}

func unmarshalAll(fields ...jsonField) error {
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dest); err != nil {
			return fmt.Errorf("unmarshal %s: %w", f.name, err)
		}
	}
	return nil
}
