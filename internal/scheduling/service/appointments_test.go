package service

import (
	"context"
	"testing"
	"time"

	"github.com/clinicaec/hospital-backend/internal/audit"
	"github.com/clinicaec/hospital-backend/internal/scheduling/domain"
	"github.com/clinicaec/hospital-backend/internal/scheduling/repository"
	"github.com/clinicaec/hospital-backend/pkg/actor"
	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/clinicaec/hospital-backend/pkg/messaging"
	"github.com/clinicaec/hospital-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appErr(t *testing.T, err error) *errors.AppError {
	t.Helper()
	var e *errors.AppError
	require.True(t, errors.As(err, &e), "expected AppError, got %v", err)
	return e
}

func (f *fixture) book(t *testing.T, fecha, start, end string) (*repository.Appointment, error) {
	t.Helper()
	return f.svc.CreateAppointment(context.Background(), CreateAppointmentInput{
		PacienteID: f.patient,
		MedicoID:   &f.doctor,
		Fecha:      fecha,
		HoraInicio: testutil.PtrString(start),
		HoraFin:    testutil.PtrString(end),
	})
}

func (f *fixture) mustBook(t *testing.T, fecha, start, end string) *repository.Appointment {
	t.Helper()
	appt, err := f.book(t, fecha, start, end)
	require.NoError(t, err)
	return appt
}

func TestCreateAppointment_OverlapAndAbutting(t *testing.T) {
	f := newFixture(t)

	first := f.mustBook(t, "2025-06-01", "10:00", "10:30")
	assert.Equal(t, domain.StatusScheduled, first.Estado)
	assert.Equal(t, domain.KindConsultation, first.TipoCita)
	assert.Equal(t, "10:00:00", *first.HoraInicio)

	_, err := f.book(t, "2025-06-01", "10:15", "10:45")
	conflict := appErr(t, err)
	assert.Equal(t, "CONFLICT", conflict.Code)
	assert.Equal(t, first.ID, conflict.Details["cita_id"])
	assert.Equal(t, audit.OutcomeFailure, f.audit.last().Estado)

	third, err := f.book(t, "2025-06-01", "10:30", "11:00")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)

	assert.Equal(t, []string{messaging.TemplateCitaCreada, messaging.TemplateCitaCreada}, f.store.templates())
	assert.Len(t, f.store.locks, 3)
	assert.Equal(t, f.doctor+":2025-06-01", f.store.locks[0])
}

func TestCreateAppointment_NoCollisionAcrossPhysiciansOrUntimed(t *testing.T) {
	f := newFixture(t)
	other := f.dir.addPhysician("Zambrano", "Pediatria")
	f.mustBook(t, "2025-06-01", "10:00", "10:30")

	_, err := f.svc.CreateAppointment(context.Background(), CreateAppointmentInput{
		PacienteID: f.patient, MedicoID: &other, Fecha: "2025-06-01",
		HoraInicio: testutil.PtrString("10:00"), HoraFin: testutil.PtrString("10:30"),
	})
	require.NoError(t, err)

	_, err = f.svc.CreateAppointment(context.Background(), CreateAppointmentInput{
		PacienteID: f.patient, MedicoID: &f.doctor, Fecha: "2025-06-01",
	})
	require.NoError(t, err)

	walkIn, err := f.svc.CreateAppointment(context.Background(), CreateAppointmentInput{
		PacienteID: f.patient, Fecha: "2025-06-01", TipoCita: "emergencia",
		HoraInicio: testutil.PtrString("10:00"), HoraFin: testutil.PtrString("10:30"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.KindEmergency, walkIn.TipoCita)
	assert.Len(t, f.store.locks, 2, "only timed appointments with a physician lock the day")
}

func TestCreateAppointment_Rejections(t *testing.T) {
	f := newFixture(t)
	unknown := "0f8e4c2a-1b3d-4e5f-8a9b-0c1d2e3f4a5b"

	tests := []struct {
		name string
		in   CreateAppointmentInput
		code string
	}{
		{"past date", CreateAppointmentInput{PacienteID: f.patient, Fecha: "2025-05-19"}, "VALIDATION_ERROR"},
		{"earlier today beyond grace", CreateAppointmentInput{
			PacienteID: f.patient, Fecha: "2025-05-20", HoraInicio: testutil.PtrString("07:30"),
		}, "VALIDATION_ERROR"},
		{"end before start", CreateAppointmentInput{
			PacienteID: f.patient, Fecha: "2025-06-01",
			HoraInicio: testutil.PtrString("11:00"), HoraFin: testutil.PtrString("10:00"),
		}, "VALIDATION_ERROR"},
		{"bad date", CreateAppointmentInput{PacienteID: f.patient, Fecha: "01/06/2025"}, "VALIDATION_ERROR"},
		{"unknown patient", CreateAppointmentInput{PacienteID: unknown, Fecha: "2025-06-01"}, "REFERENCE_NOT_FOUND"},
		{"unknown physician", CreateAppointmentInput{PacienteID: f.patient, MedicoID: &unknown, Fecha: "2025-06-01"}, "REFERENCE_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateAppointment(context.Background(), tt.in)
			assert.Equal(t, tt.code, appErr(t, err).Code)
		})
	}
	assert.Empty(t, f.store.appts)
	assert.Empty(t, f.store.outbox)
}

func TestCreateAppointment_WithinGraceHour(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateAppointment(context.Background(), CreateAppointmentInput{
		PacienteID: f.patient, Fecha: "2025-05-20", HoraInicio: testutil.PtrString("08:15"),
	})

	require.NoError(t, err)
}

func TestCreateAppointment_OutboxFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.failEnqueue = true

	_, err := f.book(t, "2025-06-01", "10:00", "10:30")

	require.Error(t, err)
	assert.Empty(t, f.store.appts)
}

func TestCancelAppointment(t *testing.T) {
	f := newFixture(t)
	appt := f.mustBook(t, "2025-06-01", "10:00", "10:30")
	ctx := actor.WithActor(context.Background(), &actor.Actor{ID: "u-9", Name: "Recepcion", Role: "Enfermera"})

	_, err := f.svc.CancelAppointment(ctx, appt.ID, " corto ")
	assert.Equal(t, "VALIDATION_ERROR", appErr(t, err).Code)
	assert.Equal(t, domain.StatusScheduled, f.store.status(appt.ID))

	cancelled, err := f.svc.CancelAppointment(ctx, appt.ID, "Patient requested reschedule")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Estado)
	assert.Equal(t, "Patient requested reschedule", *cancelled.MotivoCancelacion)
	assert.Equal(t, messaging.TemplateCitaCancelada, f.store.lastEvent().Template)

	entry := f.audit.last()
	assert.Equal(t, audit.ActionUpdate, entry.Accion)
	assert.Equal(t, "u-9", *entry.UsuarioID)
	assert.Equal(t, "Cancelacion de cita", entry.Descripcion)

	_, err = f.svc.CancelAppointment(ctx, appt.ID, "Patient requested reschedule")
	assert.Equal(t, "INVALID_STATE", appErr(t, err).Code)
}

func TestCancelAppointment_FreesTheBlock(t *testing.T) {
	f := newFixture(t)
	appt := f.mustBook(t, "2025-06-01", "10:00", "10:30")

	_, err := f.svc.CancelAppointment(context.Background(), appt.ID, "El paciente viaja fuera de la ciudad")
	require.NoError(t, err)

	_, err = f.book(t, "2025-06-01", "10:00", "10:30")
	assert.NoError(t, err)
}

func TestCancelAppointment_AnyOpenStatus(t *testing.T) {
	for _, from := range []domain.Status{domain.StatusWaiting, domain.StatusInProgress, domain.StatusNoShow} {
		t.Run(string(from), func(t *testing.T) {
			f := newFixture(t)
			appt := f.mustBook(t, "2025-06-01", "10:00", "10:30")
			f.store.setStatus(appt.ID, from)

			cancelled, err := f.svc.CancelAppointment(context.Background(), appt.ID, "Patient requested reschedule")

			require.NoError(t, err)
			assert.Equal(t, domain.StatusCancelled, cancelled.Estado)
			assert.Equal(t, domain.StatusCancelled, f.store.status(appt.ID))
			assert.Equal(t, messaging.TemplateCitaCancelada, f.store.lastEvent().Template)
		})
	}
}

func TestCancelAppointment_CompletedIsFinal(t *testing.T) {
	f := newFixture(t)
	appt := f.mustBook(t, "2025-06-01", "10:00", "10:30")
	f.store.setStatus(appt.ID, domain.StatusCompleted)

	_, err := f.svc.CancelAppointment(context.Background(), appt.ID, "Patient requested reschedule")

	assert.Equal(t, "INVALID_STATE", appErr(t, err).Code)
	assert.Equal(t, domain.StatusCompleted, f.store.status(appt.ID))
}

func TestUpdateAppointment_FinishedAppointmentKeepsItsSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.mustBook(t, "2025-06-01", "10:00", "10:30")
	_, err := f.svc.CancelAppointment(ctx, appt.ID, "El paciente viaja fuera de la ciudad")
	require.NoError(t, err)

	fecha, start := "2025-06-09", "09:00"
	_, err = f.svc.UpdateAppointment(ctx, appt.ID, UpdateAppointmentInput{Fecha: &fecha, HoraInicio: &start})
	assert.Equal(t, "INVALID_STATE", appErr(t, err).Code)

	same := "2025-06-01"
	note := "Consultorio 3"
	updated, err := f.svc.UpdateAppointment(ctx, appt.ID, UpdateAppointmentInput{Fecha: &same, Consultorio: &note})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", updated.Fecha.Format(time.DateOnly))
	require.NotNil(t, updated.HoraInicio)
	assert.Equal(t, "10:00:00", *updated.HoraInicio)
}

func TestUpdateAppointment_Transitions(t *testing.T) {
	f := newFixture(t)
	appt := f.mustBook(t, "2025-06-01", "10:00", "10:30")
	set := func(s domain.Status) UpdateAppointmentInput { return UpdateAppointmentInput{Estado: &s} }

	for _, next := range []domain.Status{domain.StatusConfirmed, domain.StatusWaiting, domain.StatusInProgress, domain.StatusCompleted} {
		updated, err := f.svc.UpdateAppointment(context.Background(), appt.ID, set(next))
		require.NoError(t, err, next)
		assert.Equal(t, next, updated.Estado)
	}

	_, err := f.svc.UpdateAppointment(context.Background(), appt.ID, set(domain.StatusScheduled))
	assert.Equal(t, "INVALID_STATE", appErr(t, err).Code)
	assert.Equal(t, domain.StatusCompleted, f.store.status(appt.ID))
}

func TestUpdateAppointment_ExclusionConflictNamesTheOtherAppointment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	taken := f.mustBook(t, "2025-06-01", "10:00", "10:30")
	moving := f.mustBook(t, "2025-06-01", "11:00", "11:30")

	start, end := "10:15", "10:45"
	_, err := f.svc.UpdateAppointment(ctx, moving.ID, UpdateAppointmentInput{HoraInicio: &start, HoraFin: &end})

	conflict := appErr(t, err)
	assert.Equal(t, "CONFLICT", conflict.Code)
	assert.Equal(t, taken.ID, conflict.Details["cita_id"])
	assert.Equal(t, "10:00:00", conflict.Details["hora_inicio"])
	assert.Equal(t, audit.OutcomeFailure, f.audit.last().Estado)

	got, err := f.svc.GetAppointment(ctx, moving.ID)
	require.NoError(t, err)
	assert.Equal(t, "11:00:00", *got.HoraInicio)
}

func TestUpdateAppointment_CancelNeedsReason(t *testing.T) {
	f := newFixture(t)
	appt := f.mustBook(t, "2025-06-01", "10:00", "10:30")
	cancelled := domain.StatusCancelled

	_, err := f.svc.UpdateAppointment(context.Background(), appt.ID, UpdateAppointmentInput{Estado: &cancelled})
	e := appErr(t, err)
	assert.Equal(t, "VALIDATION_ERROR", e.Code)
	assert.Contains(t, e.Details, "motivo_cancelacion")

	_, err = f.svc.UpdateAppointment(context.Background(), appt.ID, UpdateAppointmentInput{
		Estado: &cancelled, MotivoCancelacion: testutil.PtrString("Cambio de medico tratante"),
	})
	require.NoError(t, err)
	assert.Equal(t, messaging.TemplateCitaCancelada, f.store.lastEvent().Template)
}

func TestUpdateAppointment_TemplateSelection(t *testing.T) {
	f := newFixture(t)
	appt := f.mustBook(t, "2025-06-01", "10:00", "10:30")

	_, err := f.svc.UpdateAppointment(context.Background(), appt.ID, UpdateAppointmentInput{Consultorio: testutil.PtrString("C-12")})
	require.NoError(t, err)
	assert.Equal(t, messaging.TemplateCitaActualizada, f.store.lastEvent().Template)

	_, err = f.svc.UpdateAppointment(context.Background(), appt.ID, UpdateAppointmentInput{Fecha: testutil.PtrString("2025-06-02")})
	require.NoError(t, err)
	event := f.store.lastEvent()
	assert.Equal(t, messaging.TemplateCitaReprogramada, event.Template)
	require.NotNil(t, event.FechaAnterior)
	assert.Equal(t, "2025-06-01", *event.FechaAnterior)
	assert.Equal(t, messaging.EventAppointmentRescheduled, f.store.outbox[len(f.store.outbox)-1].EventType)
}

func TestUpdateAppointment_TimeOrder(t *testing.T) {
	f := newFixture(t)
	appt := f.mustBook(t, "2025-06-01", "10:00", "10:30")

	_, err := f.svc.UpdateAppointment(context.Background(), appt.ID, UpdateAppointmentInput{HoraFin: testutil.PtrString("09:45")})

	assert.Equal(t, "VALIDATION_ERROR", appErr(t, err).Code)
}

func TestRescheduleAppointment(t *testing.T) {
	f := newFixture(t)
	first := f.mustBook(t, "2025-06-01", "10:00", "10:30")
	second := f.mustBook(t, "2025-06-01", "11:00", "11:30")

	moved, err := f.svc.RescheduleAppointment(context.Background(), first.ID, RescheduleInput{
		Fecha: "2025-06-01", HoraInicio: testutil.PtrString("10:15"), HoraFin: testutil.PtrString("10:45"),
	})
	require.NoError(t, err, "overlapping its own old block is allowed")
	assert.Equal(t, "10:15:00", *moved.HoraInicio)
	assert.Equal(t, messaging.TemplateCitaReprogramada, f.store.lastEvent().Template)

	_, err = f.svc.RescheduleAppointment(context.Background(), first.ID, RescheduleInput{
		Fecha: "2025-06-01", HoraInicio: testutil.PtrString("10:45"), HoraFin: testutil.PtrString("11:15"),
	})
	conflict := appErr(t, err)
	assert.Equal(t, "CONFLICT", conflict.Code)
	assert.Equal(t, second.ID, conflict.Details["cita_id"])

	_, err = f.svc.RescheduleAppointment(context.Background(), first.ID, RescheduleInput{Fecha: "2025-05-01"})
	assert.Equal(t, "VALIDATION_ERROR", appErr(t, err).Code)
}

func TestRescheduleAppointment_KeepsTimesWhenOnlyDateGiven(t *testing.T) {
	f := newFixture(t)
	appt := f.mustBook(t, "2025-06-01", "10:00", "10:30")

	moved, err := f.svc.RescheduleAppointment(context.Background(), appt.ID, RescheduleInput{Fecha: "2025-06-05"})

	require.NoError(t, err)
	assert.Equal(t, "2025-06-05", moved.Fecha.Format("2006-01-02"))
	assert.Equal(t, "10:30:00", *moved.HoraFin)
	assert.Equal(t, []string{f.doctor + ":2025-06-01", f.doctor + ":2025-06-05"}, f.store.locks)
}

func TestRescheduleAppointment_FromNoShowReopens(t *testing.T) {
	f := newFixture(t)
	appt := f.mustBook(t, "2025-06-01", "10:00", "10:30")
	f.store.setStatus(appt.ID, domain.StatusNoShow)

	noShow := domain.StatusScheduled
	_, err := f.svc.UpdateAppointment(context.Background(), appt.ID, UpdateAppointmentInput{Estado: &noShow})
	assert.Equal(t, "INVALID_STATE", appErr(t, err).Code, "only a reschedule reopens a missed appointment")

	moved, err := f.svc.RescheduleAppointment(context.Background(), appt.ID, RescheduleInput{Fecha: "2025-06-08"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, moved.Estado)
}

func TestRescheduleAppointment_TerminalRejected(t *testing.T) {
	for _, status := range []domain.Status{domain.StatusCompleted, domain.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			appt := f.mustBook(t, "2025-06-01", "10:00", "10:30")
			f.store.setStatus(appt.ID, status)

			_, err := f.svc.RescheduleAppointment(context.Background(), appt.ID, RescheduleInput{Fecha: "2025-06-08"})

			assert.Equal(t, "INVALID_STATE", appErr(t, err).Code)
		})
	}
}

func TestValidateTodayAppointment(t *testing.T) {
	f := newFixture(t)
	today := f.mustBook(t, "2025-05-20", "15:00", "15:30")
	later := f.mustBook(t, "2025-06-01", "10:00", "10:30")

	_, err := f.svc.ValidateTodayAppointment(context.Background(), later.ID)
	assert.Equal(t, "VALIDATION_ERROR", appErr(t, err).Code)

	confirmed, err := f.svc.ValidateTodayAppointment(context.Background(), today.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, confirmed.Estado)
	queued := len(f.store.outbox)

	again, err := f.svc.ValidateTodayAppointment(context.Background(), today.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, again.Estado)
	assert.Len(t, f.store.outbox, queued, "a confirmed appointment is returned unchanged")
}

func TestListByDate_UntimedLast(t *testing.T) {
	f := newFixture(t)
	late := f.mustBook(t, "2025-06-01", "16:00", "16:30")
	untimed, err := f.svc.CreateAppointment(context.Background(), CreateAppointmentInput{PacienteID: f.patient, Fecha: "2025-06-01"})
	require.NoError(t, err)
	early := f.mustBook(t, "2025-06-01", "08:00", "08:30")
	f.mustBook(t, "2025-06-02", "08:00", "08:30")

	list, err := f.svc.ListByDate(context.Background(), "2025-06-01", "")
	require.NoError(t, err)

	ids := make([]string, len(list))
	for i, a := range list {
		ids[i] = a.ID
	}
	assert.Equal(t, []string{early.ID, late.ID, untimed.ID}, ids)

	_, err = f.svc.ListByDate(context.Background(), "junio", "")
	assert.Equal(t, "VALIDATION_ERROR", appErr(t, err).Code)
}

func TestAvailabilityByPhysician(t *testing.T) {
	f := newFixture(t)
	pediatra := f.dir.addPhysician("Zambrano", "Pediatria")
	f.mustBook(t, "2025-06-01", "10:00", "10:30")
	cancelled := f.mustBook(t, "2025-06-01", "11:00", "11:30")
	_, err := f.svc.CancelAppointment(context.Background(), cancelled.ID, "Paciente hospitalizado")
	require.NoError(t, err)

	all, err := f.svc.AvailabilityByPhysician(context.Background(), "2025-06-01", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, f.doctor, all[0].MedicoID)
	assert.Equal(t, 1, all[0].TotalCitas)
	assert.Equal(t, "10:00:00", all[0].Ocupados[0].Inicio.String())
	assert.Equal(t, pediatra, all[1].MedicoID)
	assert.Equal(t, 0, all[1].TotalCitas)
	assert.NotNil(t, all[1].Ocupados)

	cardio, err := f.svc.AvailabilityByPhysician(context.Background(), "2025-06-01", "Cardiologia")
	require.NoError(t, err)
	assert.Len(t, cardio, 1)
}

func TestDeleteAppointment(t *testing.T) {
	f := newFixture(t)
	appt := f.mustBook(t, "2025-06-01", "10:00", "10:30")

	require.NoError(t, f.svc.DeleteAppointment(context.Background(), appt.ID))
	assert.Equal(t, audit.ActionDelete, f.audit.last().Accion)

	_, err := f.svc.GetAppointment(context.Background(), appt.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	err = f.svc.DeleteAppointment(context.Background(), appt.ID)
	assert.Equal(t, "NOT_FOUND", appErr(t, err).Code)

	_, err = f.book(t, "2025-06-01", "10:00", "10:30")
	assert.NoError(t, err, "a deleted appointment no longer holds its block")
}
