package model

type EventKind string

const (
	EventBooked      EventKind = "booked"
	EventRescheduled EventKind = "rescheduled"
	EventCancelled   EventKind = "cancelled"
)

// AppointmentEvent describes a committed lifecycle change. Previous is set
// for reschedules and holds the appointment as it was before the move.
type AppointmentEvent struct {
	Kind        EventKind
	Appointment Appointment
	Previous    *Appointment
}
