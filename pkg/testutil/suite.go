//go:build integration

package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/clinicaec/hospital-backend/migrations"
	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/clinicaec/hospital-backend/pkg/logger"
)

var (
	// shared across every integration test in a package
	globalContainer *PostgresContainer
	globalDB        *database.DB
	containerOnce   sync.Once
	containerErr    error
)

// truncateOrder lists every table the migrations create, children first
var truncateOrder = []string{"citas", "lotes", "medicamentos", "pacientes", "empleados", "auditoria", "outbox_events"}

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (or reuses) the shared container and applies
// the embedded migrations.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    var err error
//	    suite, err = testutil.NewIntegrationSuite(ctx)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    code := m.Run()
//	    testutil.TerminateContainer(ctx)
//	    os.Exit(code)
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	log := logger.New("test", "test")

	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		raw, err := globalContainer.Connect(ctx)
		if err != nil {
			containerErr = err
			return
		}
		globalDB = database.Wrap(raw, log)
		_, containerErr = database.NewMigrator(globalDB, migrations.Files).Up(ctx)
	})
	if containerErr != nil {
		return nil, containerErr
	}

	return &IntegrationSuite{
		Container: globalContainer,
		DB:        globalDB,
		Fixtures:  NewFixtureFactory(globalDB),
		Logger:    log,
	}, nil
}

// Reset empties every table. Call it at the start of each test.
func (s *IntegrationSuite) Reset(t *testing.T, ctx context.Context) {
	t.Helper()
	for _, table := range truncateOrder {
		if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE %s CASCADE", table)); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}
