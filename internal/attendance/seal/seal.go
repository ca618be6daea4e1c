// Package seal computes keyed integrity tags over clock records so that
// edits made outside the state machine are detectable.
package seal

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"rotaclock/internal/attendance/models"
)

// Sealer tags records with a keyed BLAKE2b-256 MAC.
type Sealer struct {
	key []byte
}

// New builds a Sealer. The key must be 1..64 bytes.
func New(key []byte) (*Sealer, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, fmt.Errorf("seal key must be 1..%d bytes, got %d", blake2b.Size, len(key))
	}
	return &Sealer{key: append([]byte(nil), key...)}, nil
}

// Seal returns the hex tag for the record's decision-relevant fields.
// Enrichment metadata (facility, device) is deliberately outside the tag.
func (s *Sealer) Seal(r *models.ClockRecord) string {
	h, err := blake2b.New256(s.key)
	if err != nil {
		// Key length is validated in New.
		panic(err)
	}
	h.Write([]byte(canonical(r)))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether the record's stored tag matches its contents.
func (s *Sealer) Verify(r *models.ClockRecord) bool {
	want := s.Seal(r)
	return subtle.ConstantTimeCompare([]byte(want), []byte(r.Seal)) == 1
}

func canonical(r *models.ClockRecord) string {
	fields := []string{
		r.ID,
		r.StudentID,
		r.RotationID,
		r.SiteID,
		r.Date,
		formatTime(r.ClockIn),
		formatTime(r.ClockOut),
		formatHours(r.TotalHours),
		string(r.Status),
	}
	return strings.Join(fields, "|")
}

// Microsecond precision matches what PostgreSQL timestamptz round-trips.
func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func formatHours(h *float64) string {
	if h == nil {
		return "-"
	}
	return strconv.FormatFloat(*h, 'f', 2, 64)
}
