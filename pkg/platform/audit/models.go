package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: accepted
	// clock transitions that change a student's credited hours. These are
	// written in the same transaction as the transition.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers events useful for operational visibility,
	// such as rejected clock attempts. They can be sampled or dropped.
	CategoryOperations EventCategory = "operations"
)

// Event is the transport-agnostic audit record persisted by stores and
// published to Kafka.
type Event struct {
	ID        string
	Category  EventCategory
	Timestamp time.Time
	StudentID string
	Subject   string
	Action    string
	Decision  string
	Reason    string
	RecordID  string
	SiteID    string
	RequestID string
	// ActorID is the authenticated caller when different from StudentID,
	// e.g. a coordinator clocking on a student's behalf.
	ActorID string
}

type AuditEvent string

const (
	EventClockInAccepted  AuditEvent = "clock_in_accepted"
	EventClockOutAccepted AuditEvent = "clock_out_accepted"
	EventClockRejected    AuditEvent = "clock_rejected"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventClockInAccepted:  CategoryCompliance,
	EventClockOutAccepted: CategoryCompliance,
	EventClockRejected:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// ComplianceEvent captures an accepted clock transition. Use with the
// compliance publisher for fail-closed semantics.
type ComplianceEvent struct {
	Timestamp time.Time
	StudentID string
	Action    string
	Decision  string
	RecordID  string
	SiteID    string
	RequestID string
	ActorID   string
}

func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:  CategoryCompliance,
		Timestamp: e.Timestamp,
		StudentID: e.StudentID,
		Subject:   e.StudentID,
		Action:    e.Action,
		Decision:  e.Decision,
		RecordID:  e.RecordID,
		SiteID:    e.SiteID,
		RequestID: e.RequestID,
		ActorID:   e.ActorID,
	}
}

// OpsEvent captures a rejected clock attempt. Events are fire-and-forget.
type OpsEvent struct {
	Timestamp time.Time
	StudentID string
	Action    string
	// Reason is the rejection code, e.g. GEOFENCE_FAIL.
	Reason    string
	SiteID    string
	RequestID string
}

func (e OpsEvent) Category() EventCategory { return CategoryOperations }

func (e OpsEvent) ToEvent() Event {
	return Event{
		Category:  CategoryOperations,
		Timestamp: e.Timestamp,
		StudentID: e.StudentID,
		Subject:   e.StudentID,
		Action:    e.Action,
		Decision:  "rejected",
		Reason:    e.Reason,
		SiteID:    e.SiteID,
		RequestID: e.RequestID,
	}
}

// OutboxEntry is a persisted event awaiting publication.
type OutboxEntry struct {
	ID          string
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}
