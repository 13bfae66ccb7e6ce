package repository

import (
	"path/filepath"
	"testing"
	"time"

	"unified_portfolio/internal/database"
	"unified_portfolio/internal/models"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := database.New(dbPath)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// Sync history

func TestSyncHistoryRepository_StartComplete(t *testing.T) {
	repo := NewSyncHistoryRepository(setupTestDB(t))

	id, err := repo.Start("cycle-1", "coinbase", models.TriggerManual)
	if err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	if err := repo.Complete(id, 3, 1); err != nil {
		t.Fatalf("Complete() error = %v, want nil", err)
	}

	got, err := repo.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() returned nil")
	}
	if got.Status != models.SyncStatusSuccess {
		t.Errorf("Status = %q, want %q", got.Status, models.SyncStatusSuccess)
	}
	if got.PositionsSynced != 3 || got.PositionsSkipped != 1 {
		t.Errorf("positions = %d/%d, want 3/1", got.PositionsSynced, got.PositionsSkipped)
	}
	if got.CycleID != "cycle-1" || got.Provider != "coinbase" || got.Trigger != models.TriggerManual {
		t.Errorf("unexpected row: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
}

func TestSyncHistoryRepository_Fail(t *testing.T) {
	repo := NewSyncHistoryRepository(setupTestDB(t))

	id, _ := repo.Start("cycle-2", "schwab", models.TriggerTimer)
	if err := repo.Fail(id, "schwab auth failed"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	got, err := repo.GetLatestByProvider("schwab")
	if err != nil {
		t.Fatalf("GetLatestByProvider() error = %v", err)
	}
	if got.Status != models.SyncStatusError {
		t.Errorf("Status = %q, want %q", got.Status, models.SyncStatusError)
	}
	if got.ErrorMessage != "schwab auth failed" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestSyncHistoryRepository_GetByProvider(t *testing.T) {
	repo := NewSyncHistoryRepository(setupTestDB(t))

	repo.Start("c1", "coinbase", models.TriggerTimer)
	repo.Start("c1", "schwab", models.TriggerTimer)
	repo.Start("c2", "coinbase", models.TriggerTimer)

	got, err := repo.GetByProvider("coinbase", 10)
	if err != nil {
		t.Fatalf("GetByProvider() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, h := range got {
		if h.Provider != "coinbase" {
			t.Errorf("Provider = %q, want coinbase", h.Provider)
		}
	}

	all, err := repo.GetRecent(2)
	if err != nil {
		t.Fatalf("GetRecent() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("GetRecent(2) len = %d, want 2", len(all))
	}
}

func TestSyncHistoryRepository_GetLatest_Empty(t *testing.T) {
	repo := NewSyncHistoryRepository(setupTestDB(t))

	got, err := repo.GetLatestByProvider("coinbase")
	if err != nil {
		t.Fatalf("GetLatestByProvider() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetLatestByProvider() = %+v, want nil", got)
	}
}

func TestSyncHistoryRepository_DeleteOlderThan(t *testing.T) {
	repo := NewSyncHistoryRepository(setupTestDB(t))
	repo.Start("c1", "coinbase", models.TriggerTimer)

	n, err := repo.DeleteOlderThan(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteOlderThan() = %d, want 1", n)
	}
}

// Secrets

func TestSecretRepository_UpsertGet(t *testing.T) {
	repo := NewSecretRepository(setupTestDB(t))

	if err := repo.Upsert("SCHWAB_APP_KEY", []byte("c1"), []byte("n1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := repo.Upsert("SCHWAB_APP_KEY", []byte("c2"), []byte("n2")); err != nil {
		t.Fatalf("Upsert() second error = %v", err)
	}

	got, err := repo.Get("SCHWAB_APP_KEY")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Ciphertext) != "c2" || string(got.Nonce) != "n2" {
		t.Errorf("Get() = %q/%q, want c2/n2", got.Ciphertext, got.Nonce)
	}

	names, err := repo.ListNames()
	if err != nil {
		t.Fatalf("ListNames() error = %v", err)
	}
	if len(names) != 1 || names[0] != "SCHWAB_APP_KEY" {
		t.Errorf("ListNames() = %v", names)
	}
}

func TestSecretRepository_GetMissing(t *testing.T) {
	repo := NewSecretRepository(setupTestDB(t))

	got, err := repo.Get("COINBASE_PUBLIC")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil", got)
	}
}

func TestSecretRepository_Delete(t *testing.T) {
	repo := NewSecretRepository(setupTestDB(t))
	repo.Upsert("TOTAL_INITIAL", []byte("c"), []byte("n"))

	if err := repo.Delete("TOTAL_INITIAL"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := repo.Get("TOTAL_INITIAL"); got != nil {
		t.Error("secret should be deleted")
	}
}

// Snapshots

func TestSnapshotRepository_SaveLatestPrune(t *testing.T) {
	repo := NewSnapshotRepository(setupTestDB(t))
	base := time.Date(2025, 8, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := repo.Save(&models.Snapshot{
			Currency:     "USD",
			TotalBalance: float64(1000 * (i + 1)),
			Payload:      []byte(`{"n":` + string(rune('0'+i)) + `}`),
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	latest, err := repo.Latest()
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.TotalBalance != 3000 {
		t.Errorf("Latest().TotalBalance = %v, want 3000", latest.TotalBalance)
	}
	if string(latest.Payload) != `{"n":2}` {
		t.Errorf("Latest().Payload = %s", latest.Payload)
	}

	n, err := repo.Prune(1)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}
}

func TestSnapshotRepository_LatestEmpty(t *testing.T) {
	repo := NewSnapshotRepository(setupTestDB(t))
	got, err := repo.Latest()
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if got != nil {
		t.Errorf("Latest() = %+v, want nil", got)
	}
}

// Pagination

func TestNewPagination(t *testing.T) {
	tests := []struct {
		limit, offset int
		want          Pagination
	}{
		{0, 0, Pagination{Limit: DefaultLimit}},
		{-5, -1, Pagination{Limit: DefaultLimit}},
		{10, 20, Pagination{Limit: 10, Offset: 20}},
		{10000, 0, Pagination{Limit: MaxLimit}},
	}
	for _, tt := range tests {
		if got := NewPagination(tt.limit, tt.offset); got != tt.want {
			t.Errorf("NewPagination(%d, %d) = %+v, want %+v", tt.limit, tt.offset, got, tt.want)
		}
	}
}
