package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rhuss/sktools/pkg/storage"
)

func init() {
	// Point testcontainers at a podman machine when no Docker host is set.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			if sock := strings.TrimSpace(string(out)); sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupTestDB starts a PostgreSQL container and returns a connected Store.
// Tests are skipped when no container runtime is available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if testing.Short() || os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("skipping PostgreSQL integration tests")
	}

	if !containerRuntimeAvailable() {
		t.Skip("skipping: no container runtime found")
	}

	ctx := context.Background()
	container, err := startPostgres(ctx)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := New(ctx, Config{
		DSN:            connStr,
		MaxConns:       5,
		MinConns:       1,
		MigrateOnStart: true,
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// containerRuntimeAvailable reports whether testcontainers has anything to
// talk to: an explicit DOCKER_HOST, a local socket or a docker or podman
// binary.
func containerRuntimeAvailable() bool {
	if os.Getenv("DOCKER_HOST") != "" {
		return true
	}
	for _, sock := range []string{"/var/run/docker.sock", os.ExpandEnv("$XDG_RUNTIME_DIR/docker.sock")} {
		if _, err := os.Stat(sock); err == nil {
			return true
		}
	}
	for _, bin := range []string{"docker", "podman"} {
		if _, err := exec.LookPath(bin); err == nil {
			return true
		}
	}
	return false
}

// startPostgres runs the container. testcontainers panics when it cannot
// locate a Docker host, so that is turned into an error too.
func startPostgres(ctx context.Context) (c *pgmodule.PostgresContainer, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("container runtime unavailable: %v", r)
		}
	}()
	return pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("sktools_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
}

func makeTestRecord(id string, created time.Time, outcome string) *storage.Record {
	return &storage.Record{
		ID:           id,
		Source:       "import numpy\nprint(numpy.__version__)",
		Report:       "Output:\n1.26.4\n",
		Outcome:      outcome,
		SandboxState: "ready",
		Runner:       "subprocess",
		Packages:     []storage.PackageOutcome{{Name: "numpy", Outcome: "present"}},
		DurationMs:   250,
		CreatedAt:    created.UTC().Truncate(time.Microsecond),
	}
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestPostgres_SaveAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	rec := makeTestRecord(uniqueID("exec_get"), time.Now(), storage.OutcomeSuccess)
	if err := store.SaveExecution(ctx, rec); err != nil {
		t.Fatalf("SaveExecution: %v", err)
	}

	got, err := store.GetExecution(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Source != rec.Source || got.Report != rec.Report || got.Outcome != rec.Outcome {
		t.Errorf("got %+v", got)
	}
	if len(got.Packages) != 1 || got.Packages[0].Name != "numpy" {
		t.Errorf("packages = %+v", got.Packages)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
}

func TestPostgres_NullableColumns(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	rec := &storage.Record{
		ID:           uniqueID("exec_blocked"),
		Source:       "import subprocess",
		Report:       "Code contains potentially unsafe operations and was not executed.",
		Outcome:      storage.OutcomeBlocked,
		BlockReason:  `import of restricted module "subprocess"`,
		SandboxState: "disabled",
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.SaveExecution(ctx, rec); err != nil {
		t.Fatalf("SaveExecution: %v", err)
	}
	got, err := store.GetExecution(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Runner != "" || got.Packages != nil || got.BlockReason != rec.BlockReason {
		t.Errorf("got %+v", got)
	}
}

func TestPostgres_GetNotFound(t *testing.T) {
	store := setupTestDB(t)
	if _, err := store.GetExecution(context.Background(), "exec_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_DuplicateSave(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	rec := makeTestRecord(uniqueID("exec_dup"), time.Now(), storage.OutcomeSuccess)
	if err := store.SaveExecution(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveExecution(ctx, rec); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestPostgres_Delete(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	rec := makeTestRecord(uniqueID("exec_del"), time.Now(), storage.OutcomeSuccess)
	if err := store.SaveExecution(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteExecution(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteExecution: %v", err)
	}
	if err := store.DeleteExecution(ctx, rec.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestPostgres_ListExecutions(t *testing.T) {
	store := setupTestDB(t)
	tenant := uniqueID("tenant_list")
	ctx := storage.SetTenant(context.Background(), tenant)

	start := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		outcome := storage.OutcomeSuccess
		if i%2 == 1 {
			outcome = storage.OutcomeError
		}
		rec := makeTestRecord(fmt.Sprintf("%s_%d", tenant, i), start.Add(time.Duration(i)*time.Second), outcome)
		if err := store.SaveExecution(ctx, rec); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, rec.ID)
	}

	page, err := store.ListExecutions(ctx, storage.ListOptions{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Data) != 2 || page.Data[0].ID != ids[4] || !page.HasMore {
		t.Fatalf("first page = %+v", page)
	}

	next, err := store.ListExecutions(ctx, storage.ListOptions{Limit: 10, After: page.LastID})
	if err != nil {
		t.Fatal(err)
	}
	if len(next.Data) != 3 || next.Data[0].ID != ids[2] || next.HasMore {
		t.Fatalf("second page = %+v", next)
	}

	asc, err := store.ListExecutions(ctx, storage.ListOptions{Order: "asc", Outcome: storage.OutcomeError})
	if err != nil {
		t.Fatal(err)
	}
	if len(asc.Data) != 2 || asc.Data[0].ID != ids[1] || asc.Data[1].ID != ids[3] {
		t.Fatalf("filtered = %+v", asc)
	}
}

func TestPostgres_TenantIsolation(t *testing.T) {
	store := setupTestDB(t)
	ctxA := storage.SetTenant(context.Background(), "tenant-a")
	ctxB := storage.SetTenant(context.Background(), "tenant-b")

	rec := makeTestRecord(uniqueID("exec_tenant"), time.Now(), storage.OutcomeSuccess)
	if err := store.SaveExecution(ctxA, rec); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetExecution(ctxA, rec.ID); err != nil {
		t.Errorf("tenant-a read: %v", err)
	}
	if _, err := store.GetExecution(ctxB, rec.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("tenant-b read: expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteExecution(ctxB, rec.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("tenant-b delete: expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_HealthCheck(t *testing.T) {
	store := setupTestDB(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestPendingMigrations(t *testing.T) {
	ms, err := pendingMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) == 0 || ms[0].version != 1 {
		t.Errorf("migrations = %+v", ms)
	}
}
