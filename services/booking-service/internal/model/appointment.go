package model

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// AnyResource is the sentinel scope for bookings made against the business itself.
const AnyResource = ""

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no further scheduling transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type Resource struct {
	ID             string
	TenantID       string
	ParentBranchID string
}

type Customer struct {
	ID    string
	Name  string
	Phone string
	Email string
}

// Identified reports whether the customer carries an id or a name+phone pair.
func (c Customer) Identified() bool {
	return c.ID != "" || (c.Name != "" && c.Phone != "")
}

type Appointment struct {
	ID              string
	TenantID        string
	ResourceID      string
	ServiceID       string
	Customer        Customer
	Date            civil.Date
	StartMinute     int
	DurationMinutes int
	Status          Status
	Notes           string
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CancelledAt     *time.Time
	CompletedAt     *time.Time
}

func (a Appointment) EndMinute() int {
	return a.StartMinute + a.DurationMinutes
}

// Key is the serialization domain the appointment belongs to.
func (a Appointment) Key() SlotKey {
	return SlotKey{TenantID: a.TenantID, ResourceID: a.ResourceID, Date: a.Date}
}

// SlotKey identifies one (tenant, resource, date) scheduling domain. Commits
// for the same key are linearized; distinct keys never contend.
type SlotKey struct {
	TenantID   string
	ResourceID string
	Date       civil.Date
}

func (k SlotKey) String() string {
	resource := k.ResourceID
	if resource == AnyResource {
		resource = "*"
	}
	return fmt.Sprintf("%s/%s/%s", k.TenantID, resource, k.Date)
}

// FormatMinute renders a minute-of-day as HH:MM.
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ParseClock parses HH:MM into a minute-of-day. "24:00" is accepted as end of day.
func ParseClock(raw string) (int, error) {
	if raw == "24:00" {
		return MinutesPerDay, nil
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", raw)
	}
	return t.Hour()*60 + t.Minute(), nil
}

const MinutesPerDay = 24 * 60
