package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/google/uuid"

	"github.com/bharath3010/curalink-backend/internal/bookings"
	"github.com/bharath3010/curalink-backend/internal/events"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

// Service emails patients and doctors about appointment changes. It is an
// outbox delivery handler, so every method must tolerate redelivery.
type Service struct {
	email    EmailSender
	contacts ContactStore
	logger   *logging.Logger
}

func NewService(email EmailSender, contacts ContactStore, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, contacts: contacts, logger: logger}
}

// Handle implements events.DeliveryHandler. Events without a notification are
// skipped. Only lookup and send failures are returned, so the entry is retried.
func (s *Service) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if s.email == nil || s.contacts == nil {
		return nil
	}
	env, err := entry.Envelope()
	if err != nil {
		// A malformed payload will never decode; retrying it only blocks the batch.
		s.logger.Error("notify: skipping undecodable outbox entry", "error", err, "entry_id", entry.ID)
		return nil
	}

	switch env.Type {
	case events.TypeAppointmentBooked:
		var evt events.AppointmentBookedV1
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			return s.skip(env, err)
		}
		return s.appointmentBooked(ctx, evt)
	case events.TypeAppointmentConfirmed:
		var evt events.AppointmentConfirmedV1
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			return s.skip(env, err)
		}
		return s.appointmentConfirmed(ctx, evt)
	case events.TypeAppointmentCancelled:
		var evt events.AppointmentCancelledV1
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			return s.skip(env, err)
		}
		return s.appointmentCancelled(ctx, evt)
	}
	return nil
}

func (s *Service) skip(env events.Envelope, err error) error {
	s.logger.Error("notify: skipping malformed event", "error", err, "type", env.Type, "event_id", env.ID)
	return nil
}

func (s *Service) appointmentBooked(ctx context.Context, evt events.AppointmentBookedV1) error {
	doctor, err := s.lookup(ctx, s.contacts.Doctor, evt.DoctorID)
	if err != nil {
		return err
	}
	patient, err := s.lookup(ctx, s.contacts.Patient, evt.PatientID)
	if err != nil {
		return err
	}
	when := formatStart(evt.Start, doctor.Timezone)

	var errs []error
	patientBody := fmt.Sprintf("Your %d minute appointment with %s on %s is reserved.", evt.DurationMinutes, displayName(doctor.Name, "your doctor"), when)
	if evt.Status == string(bookings.StatusPending) {
		patientBody += " Complete the payment to confirm it; unpaid reservations are released automatically."
	}
	errs = append(errs, s.send(ctx, patient, "Appointment requested", patientBody))
	errs = append(errs, s.send(ctx, doctor, "New appointment booked",
		fmt.Sprintf("%s booked a %d minute appointment on %s.", displayName(patient.Name, "A patient"), evt.DurationMinutes, when)))
	return errors.Join(errs...)
}

func (s *Service) appointmentConfirmed(ctx context.Context, evt events.AppointmentConfirmedV1) error {
	patient, err := s.lookup(ctx, s.contacts.Patient, evt.PatientID)
	if err != nil {
		return err
	}
	return s.send(ctx, patient, "Appointment confirmed",
		fmt.Sprintf("We received your payment. Your appointment on %s is confirmed.", formatStart(evt.Start, "")))
}

func (s *Service) appointmentCancelled(ctx context.Context, evt events.AppointmentCancelledV1) error {
	doctor, err := s.lookup(ctx, s.contacts.Doctor, evt.DoctorID)
	if err != nil {
		return err
	}
	patient, err := s.lookup(ctx, s.contacts.Patient, evt.PatientID)
	if err != nil {
		return err
	}
	when := formatStart(evt.Start, doctor.Timezone)

	body := fmt.Sprintf("Your appointment on %s was cancelled (%s).", when, reasonText(evt.Reason))
	if evt.PenaltyCents > 0 || evt.RefundCents > 0 {
		body += fmt.Sprintf(" A %d%% cancellation fee of %s applies and %s will be refunded.",
			evt.PenaltyPercent, formatCents(evt.PenaltyCents), formatCents(evt.RefundCents))
	}
	return errors.Join(
		s.send(ctx, patient, "Appointment cancelled", body),
		s.send(ctx, doctor, "Appointment cancelled",
			fmt.Sprintf("The appointment with %s on %s was cancelled (%s).", displayName(patient.Name, "a patient"), when, reasonText(evt.Reason))),
	)
}

// lookup returns an empty contact for people who no longer exist so the
// remaining recipients are still notified.
func (s *Service) lookup(ctx context.Context, get func(context.Context, uuid.UUID) (Contact, error), rawID string) (Contact, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Contact{}, nil
	}
	c, err := get(ctx, id)
	if errors.Is(err, ErrContactNotFound) {
		s.logger.Warn("notify: contact not found", "id", rawID)
		return Contact{}, nil
	}
	return c, err
}

func (s *Service) send(ctx context.Context, to Contact, subject, body string) error {
	if to.Email == "" {
		return nil
	}
	msg := EmailMessage{
		To:      to.Email,
		ToName:  to.Name,
		Subject: subject,
		Body:    body,
		HTML:    `<div style="font-family: sans-serif; max-width: 600px;"><p>` + html.EscapeString(body) + `</p><p style="color: #6b7280; font-size: 12px;">CuraLink</p></div>`,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: failed to send email", "error", err, "to", to.Email, "subject", subject)
		return err
	}
	return nil
}

func formatStart(t time.Time, tz string) string {
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return t.In(loc).Format("Monday, January 2 at 3:04 PM MST")
}

func formatCents(c int64) string {
	return fmt.Sprintf("$%d.%02d", c/100, c%100)
}

func displayName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

func reasonText(reason string) string {
	switch reason {
	case bookings.CancelReasonPatient:
		return "requested by the patient"
	case bookings.CancelReasonExpired:
		return "payment was not completed in time"
	case bookings.CancelReasonPaymentFailed:
		return "payment failed"
	case bookings.CancelReasonPaymentRefunded:
		return "payment refunded"
	}
	return reason
}
