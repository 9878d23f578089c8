package service

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/clinicaec/hospital-backend/internal/audit"
	directory "github.com/clinicaec/hospital-backend/internal/directory/repository"
	"github.com/clinicaec/hospital-backend/internal/scheduling/domain"
	"github.com/clinicaec/hospital-backend/internal/scheduling/repository"
	"github.com/clinicaec/hospital-backend/pkg/clock"
	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/clinicaec/hospital-backend/pkg/messaging"
	"github.com/clinicaec/hospital-backend/pkg/outbox"
	"github.com/google/uuid"
)

// memStore is an in-memory repository.Store. InTx restores the previous
// state when fn fails.
type memStore struct {
	mu     sync.Mutex
	appts  map[string]repository.Appointment
	outbox []outbox.Message
	locks  []string
	inTx   bool
	seq    int

	failEnqueue bool
}

func newMemStore() *memStore {
	return &memStore{appts: make(map[string]repository.Appointment)}
}

func (m *memStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	if m.inTx {
		return fn(m)
	}

	appts := make(map[string]repository.Appointment, len(m.appts))
	for k, v := range m.appts {
		appts[k] = v
	}
	queued := len(m.outbox)

	m.inTx = true
	err := fn(m)
	m.inTx = false
	if err != nil {
		m.appts, m.outbox = appts, m.outbox[:queued]
	}
	return err
}

func (m *memStore) LockPhysicianDay(ctx context.Context, medicoID string, fecha time.Time) error {
	if !m.inTx {
		return stderrors.New("physician day lock requires a transaction")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks = append(m.locks, medicoID+":"+fecha.Format(time.DateOnly))
	return nil
}

func (m *memStore) BusyBlocks(ctx context.Context, medicoID string, fecha time.Time) ([]domain.Block, error) {
	rows, _ := m.BlocksByDate(ctx, fecha)
	var blocks []domain.Block
	for _, row := range rows {
		if row.MedicoID != medicoID {
			continue
		}
		b, err := row.Block()
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (m *memStore) BlocksByDate(ctx context.Context, fecha time.Time) ([]repository.PhysicianBlock, error) {
	var rows []repository.PhysicianBlock
	for _, a := range m.where(func(a repository.Appointment) bool {
		return a.Activo && a.Fecha.Equal(fecha) && a.Estado.Blocking() &&
			a.MedicoID != nil && a.HoraInicio != nil && a.HoraFin != nil
	}) {
		rows = append(rows, repository.PhysicianBlock{
			MedicoID:   *a.MedicoID,
			CitaID:     a.ID,
			HoraInicio: *a.HoraInicio,
			HoraFin:    *a.HoraFin,
		})
	}
	return rows, nil
}

func (m *memStore) CreateAppointment(ctx context.Context, appt *repository.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if appt.ID == "" {
		appt.ID = uuid.New().String()
	}
	m.seq++
	appt.Activo = true
	appt.CreatedAt = time.Date(2025, 5, 20, 9, 0, m.seq, 0, time.UTC)
	m.appts[appt.ID] = *appt
	return nil
}

func (m *memStore) GetAppointment(ctx context.Context, id string, vis database.Visibility) (*repository.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || (vis == database.OnlyActive && !a.Activo) {
		return nil, errors.NotFound("appointment")
	}
	return &a, nil
}

func (m *memStore) GetAppointmentForUpdate(ctx context.Context, id string) (*repository.Appointment, error) {
	return m.GetAppointment(ctx, id, database.OnlyActive)
}

// UpdateAppointment enforces the same exclusion rule as citas_sin_traslape
// and fails like the database does, without naming the other appointment.
func (m *memStore) UpdateAppointment(ctx context.Context, appt *repository.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.appts[appt.ID]; !ok || !existing.Activo {
		return errors.NotFound("appointment")
	}
	if m.excluded(appt) {
		return errors.Conflict("the physician already has an appointment in this time block")
	}
	m.appts[appt.ID] = *appt
	return nil
}

func (m *memStore) excluded(appt *repository.Appointment) bool {
	start, end, err := appt.Times()
	if err != nil || appt.MedicoID == nil || start == nil || end == nil || !appt.Estado.Blocking() {
		return false
	}
	for id, other := range m.appts {
		if id == appt.ID || !other.Activo || !other.Estado.Blocking() || other.MedicoID == nil ||
			*other.MedicoID != *appt.MedicoID || !other.Fecha.Equal(appt.Fecha) {
			continue
		}
		ostart, oend, err := other.Times()
		if err != nil || ostart == nil || oend == nil {
			continue
		}
		if (domain.Block{Inicio: *ostart, Fin: *oend}).Overlaps(*start, *end) {
			return true
		}
	}
	return false
}

func (m *memStore) ListByDate(ctx context.Context, filter repository.AppointmentFilter) ([]*repository.Appointment, error) {
	return m.where(func(a repository.Appointment) bool {
		return a.Activo && a.Fecha.Equal(filter.Fecha) &&
			(filter.MedicoID == "" || (a.MedicoID != nil && *a.MedicoID == filter.MedicoID)) &&
			(filter.Estado == "" || a.Estado == filter.Estado)
	}), nil
}

func (m *memStore) DeleteAppointment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || !a.Activo {
		return errors.NotFound("appointment")
	}
	a.Activo = false
	m.appts[id] = a
	return nil
}

// where returns matching appointments by start time, untimed ones last
func (m *memStore) where(pred func(repository.Appointment) bool) []*repository.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Appointment
	for _, a := range m.appts {
		a := a
		if pred(a) {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.HoraInicio == nil && b.HoraInicio == nil:
			return a.CreatedAt.Before(b.CreatedAt)
		case a.HoraInicio == nil:
			return false
		case b.HoraInicio == nil:
			return true
		case *a.HoraInicio != *b.HoraInicio:
			return *a.HoraInicio < *b.HoraInicio
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
	return out
}

func (m *memStore) Enqueue(ctx context.Context, msg outbox.Message) error {
	if m.failEnqueue {
		return stderrors.New("outbox unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, msg)
	return nil
}

func (m *memStore) setStatus(id string, estado domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.appts[id]
	a.Estado = estado
	m.appts[id] = a
}

func (m *memStore) status(id string) domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appts[id].Estado
}

// templates lists the notification templates queued so far
func (m *memStore) templates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.outbox))
	for i, msg := range m.outbox {
		out[i] = msg.Payload.(messaging.AppointmentEvent).Template
	}
	return out
}

func (m *memStore) lastEvent() messaging.AppointmentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outbox[len(m.outbox)-1].Payload.(messaging.AppointmentEvent)
}

type fakeDirectory struct {
	patients   map[string]*directory.Patient
	physicians map[string]*directory.Employee
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		patients:   make(map[string]*directory.Patient),
		physicians: make(map[string]*directory.Employee),
	}
}

func (d *fakeDirectory) addPatient() string {
	id := uuid.New().String()
	d.patients[id] = &directory.Patient{ID: id, Nombres: "Maria", Apellidos: "Lopez", Activo: true}
	return id
}

func (d *fakeDirectory) addPhysician(apellido, especialidad string) string {
	id := uuid.New().String()
	d.physicians[id] = &directory.Employee{
		ID:           id,
		Nombres:      "Dr.",
		Apellidos:    apellido,
		Cargo:        directory.CargoMedico,
		Especialidad: &especialidad,
		Activo:       true,
	}
	return id
}

func (d *fakeDirectory) GetPatient(ctx context.Context, id string) (*directory.Patient, error) {
	if p, ok := d.patients[id]; ok {
		return p, nil
	}
	return nil, errors.NotFound("patient")
}

func (d *fakeDirectory) GetPhysician(ctx context.Context, id string) (*directory.Employee, error) {
	if e, ok := d.physicians[id]; ok {
		return e, nil
	}
	return nil, errors.NotFound("physician")
}

func (d *fakeDirectory) ListPhysicians(ctx context.Context, especialidad string) ([]*directory.Employee, error) {
	var out []*directory.Employee
	for _, e := range d.physicians {
		if especialidad == "" || *e.Especialidad == especialidad {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Apellidos < out[j].Apellidos })
	return out, nil
}

type auditLog struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (a *auditLog) Create(ctx context.Context, entry *audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *auditLog) last() *audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[len(a.entries)-1]
}

type fixture struct {
	store   *memStore
	dir     *fakeDirectory
	audit   *auditLog
	clock   *clock.Fixed
	svc     *AppointmentService
	patient string
	doctor  string
}

// now in fixtures is 2025-05-20 09:00 UTC
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	dir := newFakeDirectory()
	log := &auditLog{}
	clk := &clock.Fixed{T: time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)}
	return &fixture{
		store:   store,
		dir:     dir,
		audit:   log,
		clock:   clk,
		svc:     NewAppointmentService(store, dir, audit.NewRecorder(log, logger.Nop()), clk, logger.Nop()),
		patient: dir.addPatient(),
		doctor:  dir.addPhysician("Andrade", "Cardiologia"),
	}
}
