package db

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/quotawatch/internal/db/models"
	"gorm.io/gorm"
)

var testDBSeq int

func newTestStore(t *testing.T) *Store {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:storetest%d?mode=memory&cache=shared", testDBSeq)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Account{}, &models.Setting{}, &models.CheckRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewStore(gdb)
}

func testAccount(email string) *models.Account {
	return &models.Account{
		ID:           "id-" + email,
		Email:        email,
		AccessToken:  "access-" + email,
		RefreshToken: "refresh-" + email,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func TestStore_PutGetHasDelete(t *testing.T) {
	s := newTestStore(t)

	if got, err := s.Get("a@example.com"); err != nil || got != nil {
		t.Fatalf("expected nil for unknown email, got %v, %v", got, err)
	}

	if err := s.Put(testAccount("a@example.com")); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get("a@example.com")
	if err != nil || got == nil {
		t.Fatalf("get after put: %v, %v", got, err)
	}
	if got.RefreshToken != "refresh-a@example.com" {
		t.Fatalf("unexpected refresh token %q", got.RefreshToken)
	}

	ok, err := s.Has("a@example.com")
	if err != nil || !ok {
		t.Fatalf("has: %v, %v", ok, err)
	}

	if err := s.Delete("a@example.com"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := s.Has("a@example.com"); ok {
		t.Fatalf("expected account gone after delete")
	}
}

func TestStore_PutRejectsEmptyEmail(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(&models.Account{ID: "x"}); err == nil {
		t.Fatalf("expected error storing credential without email")
	}
}

func TestStore_DeleteAll(t *testing.T) {
	s := newTestStore(t)
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		if err := s.Put(testAccount(email)); err != nil {
			t.Fatalf("put %s: %v", email, err)
		}
	}
	if err := s.DeleteAll(); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	accounts, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("expected empty store, got %d accounts", len(accounts))
	}
}

func TestStore_MarkInvalid(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(testAccount("a@x.com")); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := s.MarkInvalid("a@x.com", true); err != nil {
		t.Fatalf("mark invalid: %v", err)
	}
	got, _ := s.Get("a@x.com")
	if !got.IsInvalid {
		t.Fatalf("expected invalid flag set")
	}

	if err := s.MarkInvalid("a@x.com", false); err != nil {
		t.Fatalf("clear invalid: %v", err)
	}
	got, _ = s.Get("a@x.com")
	if got.IsInvalid {
		t.Fatalf("expected invalid flag cleared")
	}
}

func TestStore_UpdateAccessToken(t *testing.T) {
	s := newTestStore(t)
	acc := testAccount("a@x.com")
	if err := s.Put(acc); err != nil {
		t.Fatalf("put: %v", err)
	}

	newExpiry := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	if err := s.UpdateAccessToken("a@x.com", "new-access", newExpiry, ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get("a@x.com")
	if got.AccessToken != "new-access" {
		t.Fatalf("access token not updated: %q", got.AccessToken)
	}
	if got.RefreshToken != acc.RefreshToken {
		t.Fatalf("refresh token must be untouched without rotation, got %q", got.RefreshToken)
	}
	if !got.ExpiresAt.Equal(newExpiry) {
		t.Fatalf("expiry not updated: %v", got.ExpiresAt)
	}

	// Rotated refresh token persists in the same write.
	if err := s.UpdateAccessToken("a@x.com", "newer-access", newExpiry, "rotated-refresh"); err != nil {
		t.Fatalf("update with rotation: %v", err)
	}
	got, _ = s.Get("a@x.com")
	if got.RefreshToken != "rotated-refresh" {
		t.Fatalf("expected rotated refresh token, got %q", got.RefreshToken)
	}
}

func TestStore_PrimarySelection(t *testing.T) {
	s := newTestStore(t)

	if got, err := s.GetDefault(); err != nil || got != nil {
		t.Fatalf("expected nil default on empty store, got %v, %v", got, err)
	}

	first := testAccount("first@x.com")
	first.IsPrimary = true
	second := testAccount("second@x.com")
	if err := s.Put(first); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := s.Put(second); err != nil {
		t.Fatalf("put second: %v", err)
	}

	got, err := s.GetDefault()
	if err != nil || got == nil || got.Email != "first@x.com" {
		t.Fatalf("expected primary account as default, got %v, %v", got, err)
	}

	if err := s.SetPrimary("second@x.com"); err != nil {
		t.Fatalf("set primary: %v", err)
	}
	got, _ = s.GetDefault()
	if got.Email != "second@x.com" {
		t.Fatalf("expected promoted account as default, got %s", got.Email)
	}
	old, _ := s.Get("first@x.com")
	if old.IsPrimary {
		t.Fatalf("expected previous primary demoted")
	}

	if err := s.SetPrimary("nobody@x.com"); err == nil {
		t.Fatalf("expected error promoting unknown account")
	}
}

func TestStore_CheckHistoryPrunes(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 210; i++ {
		rec := &models.CheckRecord{
			ID:        fmt.Sprintf("rec-%d", i),
			Email:     "a@x.com",
			Outcome:   "ok",
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.AddCheckRecord(rec); err != nil {
			t.Fatalf("add record %d: %v", i, err)
		}
	}

	records, err := s.RecentChecks(0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 200 {
		t.Fatalf("expected history pruned to 200, got %d", len(records))
	}
	if records[0].ID != "rec-209" {
		t.Fatalf("expected newest record first, got %s", records[0].ID)
	}
}
