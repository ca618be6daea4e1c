package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"rotaclock/internal/attendance/models"
	"rotaclock/pkg/platform/sentinel"
	txcontext "rotaclock/pkg/platform/tx"
)

// PostgresStore persists clock records in PostgreSQL. The partial unique
// index on (student_id, record_date) WHERE status = 'OPEN' backs the
// one-open-record invariant across processes.
type PostgresStore struct {
	db     *sql.DB
	cipher *CoordinateCipher
}

func NewPostgres(db *sql.DB, cipher *CoordinateCipher) *PostgresStore {
	return &PostgresStore{db: db, cipher: cipher}
}

const recordColumns = `
	id, student_id, rotation_id, site_id, record_date, clock_in, clock_out,
	total_hours, notes, metadata, clock_in_coord, clock_out_coord, status, seal,
	created_at, updated_at`

func (s *PostgresStore) FindOpenRecord(ctx context.Context, studentID, date string) (*models.ClockRecord, error) {
	query := `SELECT` + recordColumns + `
		FROM clock_records
		WHERE student_id = $1 AND record_date = $2 AND status = 'OPEN'`
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, studentID, date)
	rec, err := s.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find open record: %w", err)
	}
	return rec, nil
}

// InsertIfAbsent inserts rec unless the student already holds an open record
// for the date, in which case it returns sentinel.ErrAlreadyUsed.
func (s *PostgresStore) InsertIfAbsent(ctx context.Context, rec *models.ClockRecord) error {
	meta, inCoord, outCoord, err := s.encode(rec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO clock_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (student_id, record_date) WHERE status = 'OPEN' DO NOTHING`
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, query,
		rec.ID, rec.StudentID, rec.RotationID, rec.SiteID, rec.Date,
		rec.ClockIn, rec.ClockOut, rec.TotalHours, rec.Notes, meta,
		inCoord, outCoord, string(rec.Status), rec.Seal,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert clock record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert clock record: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

// Update rewrites an OPEN record. The status guard makes the close a
// conditional write: a record closed by another writer is never rewritten.
func (s *PostgresStore) Update(ctx context.Context, rec *models.ClockRecord) error {
	meta, inCoord, outCoord, err := s.encode(rec)
	if err != nil {
		return err
	}
	query := `
		UPDATE clock_records
		SET clock_out = $2, total_hours = $3, notes = $4, metadata = $5,
			clock_in_coord = $6, clock_out_coord = $7, status = $8, seal = $9, updated_at = $10
		WHERE id = $1 AND status = 'OPEN'`
	exec := txcontext.Executor(ctx, s.db)
	res, err := exec.ExecContext(ctx, query,
		rec.ID, rec.ClockOut, rec.TotalHours, rec.Notes, meta,
		inCoord, outCoord, string(rec.Status), rec.Seal, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update clock record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update clock record: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := exec.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM clock_records WHERE id = $1)`, rec.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("update clock record: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.ClockRecord, error) {
	query := `SELECT` + recordColumns + ` FROM clock_records WHERE id = $1`
	rec, err := s.scan(txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find clock record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListByStudent(ctx context.Context, studentID string) ([]*models.ClockRecord, error) {
	return s.list(ctx, `SELECT`+recordColumns+`
		FROM clock_records WHERE student_id = $1 ORDER BY clock_in, id`, studentID)
}

// ListOpenByStudent returns the student's open records, newest date first.
func (s *PostgresStore) ListOpenByStudent(ctx context.Context, studentID string) ([]*models.ClockRecord, error) {
	return s.list(ctx, `SELECT`+recordColumns+`
		FROM clock_records WHERE student_id = $1 AND status = 'OPEN' ORDER BY record_date DESC`, studentID)
}

func (s *PostgresStore) ListByRotation(ctx context.Context, rotationID string) ([]*models.ClockRecord, error) {
	return s.list(ctx, `SELECT`+recordColumns+`
		FROM clock_records WHERE rotation_id = $1 ORDER BY clock_in, id`, rotationID)
}

// SetFacility attaches enrichment metadata without touching lifecycle fields.
func (s *PostgresStore) SetFacility(ctx context.Context, id string, facility *models.Facility) error {
	if facility == nil {
		return nil
	}
	raw, err := json.Marshal(facility)
	if err != nil {
		return fmt.Errorf("marshal facility: %w", err)
	}
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx,
		`UPDATE clock_records SET metadata = jsonb_set(metadata, '{facility}', $2::jsonb) WHERE id = $1`,
		id, raw,
	)
	if err != nil {
		return fmt.Errorf("set facility: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) list(ctx context.Context, query string, arg string) ([]*models.ClockRecord, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list clock records: %w", err)
	}
	defer rows.Close()

	var out []*models.ClockRecord
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan clock record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clock records: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scan(row scanner) (*models.ClockRecord, error) {
	var (
		rec               models.ClockRecord
		clockIn, clockOut sql.NullTime
		totalHours        sql.NullFloat64
		meta              []byte
		inCoord, outCoord []byte
		status            string
	)
	if err := row.Scan(
		&rec.ID, &rec.StudentID, &rec.RotationID, &rec.SiteID, &rec.Date,
		&clockIn, &clockOut, &totalHours, &rec.Notes, &meta,
		&inCoord, &outCoord, &status, &rec.Seal,
		&rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = models.RecordStatus(status)
	if clockIn.Valid {
		t := clockIn.Time
		rec.ClockIn = &t
	}
	if clockOut.Valid {
		t := clockOut.Time
		rec.ClockOut = &t
	}
	if totalHours.Valid {
		h := totalHours.Float64
		rec.TotalHours = &h
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal record metadata: %w", err)
		}
	}
	if err := s.restoreCoordinates(&rec, inCoord, outCoord); err != nil {
		return nil, err
	}
	return &rec, nil
}

// encode splits coordinates out of the metadata document so they are only
// ever stored encrypted.
func (s *PostgresStore) encode(rec *models.ClockRecord) (meta, inCoord, outCoord []byte, err error) {
	stripped := rec.Clone().Metadata
	var in, out *models.Coordinate
	if stripped.ClockIn != nil {
		in, stripped.ClockIn.Coordinate = stripped.ClockIn.Coordinate, nil
	}
	if stripped.ClockOut != nil {
		out, stripped.ClockOut.Coordinate = stripped.ClockOut.Coordinate, nil
	}
	if inCoord, err = s.cipher.Encrypt(rec.ID, in); err != nil {
		return nil, nil, nil, err
	}
	if outCoord, err = s.cipher.Encrypt(rec.ID, out); err != nil {
		return nil, nil, nil, err
	}
	if meta, err = json.Marshal(stripped); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal record metadata: %w", err)
	}
	return meta, inCoord, outCoord, nil
}

func (s *PostgresStore) restoreCoordinates(rec *models.ClockRecord, inCoord, outCoord []byte) error {
	in, err := s.cipher.Decrypt(rec.ID, inCoord)
	if err != nil {
		return err
	}
	out, err := s.cipher.Decrypt(rec.ID, outCoord)
	if err != nil {
		return err
	}
	if in != nil {
		if rec.Metadata.ClockIn == nil {
			rec.Metadata.ClockIn = &models.LocationCapture{}
		}
		rec.Metadata.ClockIn.Coordinate = in
	}
	if out != nil {
		if rec.Metadata.ClockOut == nil {
			rec.Metadata.ClockOut = &models.LocationCapture{}
		}
		rec.Metadata.ClockOut.Coordinate = out
	}
	return nil
}
