package service

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/clinicaec/hospital-backend/internal/audit"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/domain"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/repository"
	"github.com/clinicaec/hospital-backend/pkg/clock"
	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/clinicaec/hospital-backend/pkg/outbox"
	"github.com/google/uuid"
)

// memStore is an in-memory repository.Store. InTx snapshots the state and
// restores it when fn fails, so rollbacks are observable. Lot writes and
// roll-ups fail unless the transaction holds the medication row lock.
type memStore struct {
	mu     sync.Mutex
	meds   map[string]repository.Medication
	lots   map[string]repository.Lot
	outbox []outbox.Message
	inTx   bool

	// held is the set of medication rows locked by the open transaction,
	// lockLog every lock taken since the store was created
	held    map[string]bool
	lockLog []string

	// failEnqueue makes Enqueue return an error
	failEnqueue bool
}

func newMemStore() *memStore {
	return &memStore{
		meds: make(map[string]repository.Medication),
		lots: make(map[string]repository.Lot),
	}
}

func (m *memStore) addMedication(name string) string {
	id := uuid.New().String()
	m.meds[id] = repository.Medication{ID: id, NombreGenerico: name, Activo: true}
	return id
}

func (m *memStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	if m.inTx {
		return fn(m)
	}

	meds := make(map[string]repository.Medication, len(m.meds))
	for k, v := range m.meds {
		meds[k] = v
	}
	lots := make(map[string]repository.Lot, len(m.lots))
	for k, v := range m.lots {
		lots[k] = v
	}
	queued := len(m.outbox)

	m.inTx = true
	m.held = make(map[string]bool)
	err := fn(m)
	m.inTx, m.held = false, nil
	if err != nil {
		m.meds, m.lots, m.outbox = meds, lots, m.outbox[:queued]
	}
	return err
}

func (m *memStore) GetMedication(ctx context.Context, id string) (*repository.Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	med, ok := m.meds[id]
	if !ok || !med.Activo {
		return nil, errors.NotFound("medication")
	}
	return &med, nil
}

func (m *memStore) GetMedicationForUpdate(ctx context.Context, id string) (*repository.Medication, error) {
	if !m.inTx {
		return nil, stderrors.New("medication lock requires a transaction")
	}
	med, err := m.GetMedication(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[id] = true
	m.lockLog = append(m.lockLog, id)
	return med, nil
}

// requireLock must be called with mu held
func (m *memStore) requireLock(medicamentoID string) error {
	if !m.held[medicamentoID] {
		return stderrors.New("medication " + medicamentoID + " is not locked")
	}
	return nil
}

func (m *memStore) lockedMedications() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lockLog...)
}

func (m *memStore) RollUpStock(ctx context.Context, medicamentoID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireLock(medicamentoID); err != nil {
		return 0, err
	}
	med, ok := m.meds[medicamentoID]
	if !ok {
		return 0, errors.NotFound("medication")
	}
	stock := 0
	for _, lot := range m.lots {
		if lot.MedicamentoID == medicamentoID && lot.Activo && lot.Estado.Dispensable() {
			stock += lot.CantidadDisponible
		}
	}
	med.Stock = stock
	m.meds[medicamentoID] = med
	return stock, nil
}

func (m *memStore) LowStockMedications(ctx context.Context, threshold int) ([]*repository.Medication, error) {
	return m.medsWhere(func(med repository.Medication) bool {
		return med.Stock > 0 && med.Stock < threshold
	}), nil
}

func (m *memStore) DepletedMedications(ctx context.Context) ([]*repository.Medication, error) {
	return m.medsWhere(func(med repository.Medication) bool { return med.Stock == 0 }), nil
}

func (m *memStore) medsWhere(pred func(repository.Medication) bool) []*repository.Medication {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Medication
	for _, med := range m.meds {
		med := med
		if med.Activo && pred(med) {
			out = append(out, &med)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NombreGenerico < out[j].NombreGenerico })
	return out
}

func (m *memStore) CreateLot(ctx context.Context, lot *repository.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireLock(lot.MedicamentoID); err != nil {
		return err
	}
	for _, existing := range m.lots {
		if existing.NumeroLote == lot.NumeroLote {
			return errors.Conflict("a lot with this lot number already exists")
		}
	}
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	lot.Activo = true
	m.lots[lot.ID] = *lot
	return nil
}

func (m *memStore) GetLot(ctx context.Context, id string, vis database.Visibility) (*repository.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lot, ok := m.lots[id]
	if !ok || (vis == database.OnlyActive && !lot.Activo) {
		return nil, errors.NotFound("lot")
	}
	return &lot, nil
}

func (m *memStore) GetLotByNumber(ctx context.Context, numeroLote string) (*repository.Lot, error) {
	found := m.lotsWhere(func(l repository.Lot) bool { return l.Activo && l.NumeroLote == numeroLote })
	if len(found) == 0 {
		return nil, errors.NotFound("lot")
	}
	return found[0], nil
}

func (m *memStore) GetLotForUpdate(ctx context.Context, id string) (*repository.Lot, error) {
	return m.GetLot(ctx, id, database.OnlyActive)
}

func (m *memStore) ListLots(ctx context.Context, filter repository.LotFilter) ([]*repository.Lot, int64, error) {
	out := m.lotsWhere(func(l repository.Lot) bool {
		return l.Activo &&
			(filter.MedicamentoID == "" || l.MedicamentoID == filter.MedicamentoID) &&
			(filter.Estado == "" || l.Estado == filter.Estado)
	})
	return out, int64(len(out)), nil
}

func (m *memStore) ListDispensableLots(ctx context.Context, medicamentoID string, today time.Time) ([]*repository.Lot, error) {
	return m.lotsWhere(func(l repository.Lot) bool {
		return l.Activo && l.MedicamentoID == medicamentoID && l.CantidadDisponible > 0 &&
			!l.FechaVencimiento.Before(today) && l.Estado.Dispensable()
	}), nil
}

func (m *memStore) ListActiveLots(ctx context.Context) ([]*repository.Lot, error) {
	return m.lotsWhere(func(l repository.Lot) bool { return l.Activo }), nil
}

// lotsWhere returns matching lots in FEFO order
func (m *memStore) lotsWhere(pred func(repository.Lot) bool) []*repository.Lot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Lot
	for _, lot := range m.lots {
		lot := lot
		if pred(lot) {
			out = append(out, &lot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FechaVencimiento.Equal(out[j].FechaVencimiento) {
			return out[i].FechaVencimiento.Before(out[j].FechaVencimiento)
		}
		return out[i].NumeroLote < out[j].NumeroLote
	})
	return out
}

func (m *memStore) UpdateLot(ctx context.Context, lot *repository.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lots[lot.ID]; !ok {
		return errors.NotFound("lot")
	}
	if err := m.requireLock(lot.MedicamentoID); err != nil {
		return err
	}
	m.lots[lot.ID] = *lot
	return nil
}

func (m *memStore) UpdateLotState(ctx context.Context, id string, estado domain.LotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lot, ok := m.lots[id]
	if !ok {
		return errors.NotFound("lot")
	}
	if err := m.requireLock(lot.MedicamentoID); err != nil {
		return err
	}
	lot.Estado = estado
	m.lots[id] = lot
	return nil
}

func (m *memStore) DeleteLot(ctx context.Context, id string) error {
	return m.setActive(id, true, false)
}

func (m *memStore) RestoreLot(ctx context.Context, id string) error {
	return m.setActive(id, false, true)
}

func (m *memStore) setActive(id string, from, to bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lot, ok := m.lots[id]
	if !ok || lot.Activo != from {
		return errors.NotFound("lot")
	}
	if err := m.requireLock(lot.MedicamentoID); err != nil {
		return err
	}
	lot.Activo = to
	m.lots[id] = lot
	return nil
}

func (m *memStore) NearExpiryLots(ctx context.Context, from, until time.Time) ([]*repository.LotWithMedication, error) {
	return m.joined(func(l repository.Lot) bool {
		return !l.FechaVencimiento.Before(from) && !l.FechaVencimiento.After(until)
	}), nil
}

func (m *memStore) ExpiredLots(ctx context.Context, today time.Time) ([]*repository.LotWithMedication, error) {
	return m.joined(func(l repository.Lot) bool { return l.FechaVencimiento.Before(today) }), nil
}

func (m *memStore) joined(pred func(repository.Lot) bool) []*repository.LotWithMedication {
	lots := m.lotsWhere(func(l repository.Lot) bool { return l.Activo && l.CantidadDisponible > 0 && pred(l) })
	out := make([]*repository.LotWithMedication, 0, len(lots))
	for _, l := range lots {
		out = append(out, &repository.LotWithMedication{
			ID:                 l.ID,
			MedicamentoID:      l.MedicamentoID,
			NombreGenerico:     m.meds[l.MedicamentoID].NombreGenerico,
			NumeroLote:         l.NumeroLote,
			FechaVencimiento:   l.FechaVencimiento,
			CantidadDisponible: l.CantidadDisponible,
		})
	}
	return out
}

func (m *memStore) AverageUnitCost(ctx context.Context, medicamentoID string) (*float64, error) {
	var weighted float64
	var qty int
	for _, l := range m.lotsWhere(func(l repository.Lot) bool {
		return l.Activo && l.MedicamentoID == medicamentoID && l.CantidadDisponible > 0 && l.CostoUnitario != nil
	}) {
		weighted += *l.CostoUnitario * float64(l.CantidadDisponible)
		qty += l.CantidadDisponible
	}
	if qty == 0 {
		return nil, nil
	}
	avg := weighted / float64(qty)
	return &avg, nil
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

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.outbox))
	for i, msg := range m.outbox {
		types[i] = msg.EventType
	}
	return types
}

// auditLog collects audit entries
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
	if len(a.entries) == 0 {
		return nil
	}
	return a.entries[len(a.entries)-1]
}

type fixture struct {
	store  *memStore
	audit  *auditLog
	clock  *clock.Fixed
	lots   *LotService
	alerts *AlertService
}

// today in fixtures is 2026-03-10
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	log := &auditLog{}
	clk := &clock.Fixed{T: time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)}
	return &fixture{
		store:  store,
		audit:  log,
		clock:  clk,
		lots:   NewLotService(store, audit.NewRecorder(log, logger.Nop()), clk, logger.Nop()),
		alerts: NewAlertService(store, clk, logger.Nop()),
	}
}

func (f *fixture) expiresIn(days int) string {
	return clock.Today(f.clock).AddDate(0, 0, days).Format(time.DateOnly)
}
