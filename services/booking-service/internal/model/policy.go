package model

import (
	"time"
	// Tenant timezones must resolve on hosts without a zoneinfo database.
	_ "time/tzdata"

	"cloud.google.com/go/civil"
)

// AvailabilityWindow is a recurring weekly open interval. Minutes are counted
// from local midnight in the tenant's timezone; an empty ResourceID applies the
// window to every resource of the tenant.
type AvailabilityWindow struct {
	ID          string
	TenantID    string
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
	ResourceID  string
}

// Capability names understood by the engine. Unknown names are stored and
// returned untouched.
const (
	// CapabilitySameDayClosed withholds every slot on the tenant's current date.
	CapabilitySameDayClosed = "same_day_closed"
)

type BookingRule struct {
	TenantID           string
	LeadTimeMinutes    int
	GranularityMinutes int
	MaxBookingsPerDay  int
	BlackoutDates      []civil.Date
	Timezone           string
	Capabilities       map[string]bool
}

const (
	DefaultGranularityMinutes = 15
	DefaultTimezone           = "UTC"
)

// DefaultRule is applied to tenants that never stored a rule.
func DefaultRule(tenantID string) BookingRule {
	return BookingRule{
		TenantID:           tenantID,
		GranularityMinutes: DefaultGranularityMinutes,
		Timezone:           DefaultTimezone,
	}
}

func (r BookingRule) IsBlackout(d civil.Date) bool {
	for _, b := range r.BlackoutDates {
		if b == d {
			return true
		}
	}
	return false
}

// Location resolves the rule timezone, falling back to UTC.
func (r BookingRule) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Capability reports a named extension flag; missing flags are false.
func (r BookingRule) Capability(name string) bool {
	return r.Capabilities[name]
}

type Service struct {
	ID              string
	TenantID        string
	Name            string
	DurationMinutes int
}
