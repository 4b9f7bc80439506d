package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
)

type templatePair struct {
	subject *template.Template
	body    *template.Template
}

var templates = map[model.EventKind]templatePair{
	model.EventBooked: mustPair(
		"Appointment confirmed",
		"Hi {{.customer_name}}, your appointment on {{.date}} at {{.start}} is confirmed.",
	),
	model.EventRescheduled: mustPair(
		"Appointment rescheduled",
		"Hi {{.customer_name}}, your appointment on {{.previous_date}} at {{.previous_start}} moved to {{.date}} at {{.start}}.",
	),
	model.EventCancelled: mustPair(
		"Appointment cancelled",
		"Hi {{.customer_name}}, your appointment on {{.date}} at {{.start}} was cancelled.",
	),
}

func mustPair(subject, body string) templatePair {
	return templatePair{
		subject: template.Must(template.New("subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New("body").Option("missingkey=zero").Parse(body)),
	}
}

// Render turns a committed event into the recipient and message to deliver.
func Render(ev model.AppointmentEvent, now time.Time) (Contact, Message, error) {
	a := ev.Appointment
	data := map[string]string{
		"appointment_id": a.ID,
		"resource_id":    a.ResourceID,
		"service_id":     a.ServiceID,
		"status":         string(a.Status),
		"date":           a.Date.String(),
		"start":          model.FormatMinute(a.StartMinute),
		"end":            model.FormatMinute(a.EndMinute()),
		"customer_id":    a.Customer.ID,
		"customer_name":  a.Customer.Name,
	}
	if data["customer_name"] == "" {
		data["customer_name"] = "there"
	}
	if ev.Previous != nil {
		data["previous_date"] = ev.Previous.Date.String()
		data["previous_start"] = model.FormatMinute(ev.Previous.StartMinute)
	}

	tpl, ok := templates[ev.Kind]
	if !ok {
		return Contact{}, Message{}, fmt.Errorf("no template for event %q", ev.Kind)
	}
	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return Contact{}, Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return Contact{}, Message{}, fmt.Errorf("render body: %w", err)
	}

	contact := Contact{
		TenantID:   a.TenantID,
		CustomerID: a.Customer.ID,
		Name:       a.Customer.Name,
		Phone:      a.Customer.Phone,
		Email:      a.Customer.Email,
	}
	msg := Message{
		Kind:          ev.Kind,
		TenantID:      a.TenantID,
		AppointmentID: a.ID,
		Subject:       subject.String(),
		Body:          body.String(),
		Data:          data,
		OccurredAt:    now.UTC(),
	}
	return contact, msg, nil
}
