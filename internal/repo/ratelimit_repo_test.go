package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/astroveda/go-consult-backend/internal/domain"
)

func newRateRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("rate_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.RateLimitRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestIncrementWindow_CountsWithinWindow(t *testing.T) {
	db := newRateRepoDB(t)
	ctx := context.Background()

	now := int64(1_000_000)
	window := int64(60_000)

	for want := 1; want <= 3; want++ {
		count, start, err := IncrementWindow(ctx, db, "k", now+int64(want), window)
		if err != nil {
			t.Fatalf("IncrementWindow %d: %v", want, err)
		}
		if count != want {
			t.Fatalf("expected count %d, got %d", want, count)
		}
		if want == 1 && start != now+1 {
			t.Fatalf("window start should be first request time, got %d", start)
		}
	}
}

func TestIncrementWindow_RollsOverExpiredWindow(t *testing.T) {
	db := newRateRepoDB(t)
	ctx := context.Background()

	now := int64(1_000_000)
	window := int64(60_000)

	for i := 0; i < 5; i++ {
		if _, _, err := IncrementWindow(ctx, db, "k", now, window); err != nil {
			t.Fatalf("fill window: %v", err)
		}
	}

	// One tick past expiry: the counter restarts at 1 with a fresh start.
	later := now + window + 1
	count, start, err := IncrementWindow(ctx, db, "k", later, window)
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected fresh count 1 after rollover, got %d", count)
	}
	if start != later {
		t.Fatalf("expected new window start %d, got %d", later, start)
	}
}

func TestIncrementWindow_KeysAreIndependent(t *testing.T) {
	db := newRateRepoDB(t)
	ctx := context.Background()

	now := int64(500_000)
	if _, _, err := IncrementWindow(ctx, db, "a", now, 60_000); err != nil {
		t.Fatalf("a: %v", err)
	}
	count, _, err := IncrementWindow(ctx, db, "b", now, 60_000)
	if err != nil {
		t.Fatalf("b: %v", err)
	}
	if count != 1 {
		t.Fatalf("key b must start at 1, got %d", count)
	}
}

func TestViolations_RecordAndExpire(t *testing.T) {
	db := newRateRepoDB(t)
	ctx := context.Background()

	now := int64(1_000_000)
	lookback := int64(24 * 60 * 60 * 1000)

	// The record must exist before violations can be attached to it.
	if _, _, err := IncrementWindow(ctx, db, "k", now, 60_000); err != nil {
		t.Fatalf("seed window: %v", err)
	}

	if err := RecordViolation(ctx, db, "k", now, lookback); err != nil {
		t.Fatalf("RecordViolation 1: %v", err)
	}
	if err := RecordViolation(ctx, db, "k", now+10, lookback); err != nil {
		t.Fatalf("RecordViolation 2: %v", err)
	}

	n, err := Violations(ctx, db, "k", now+20, lookback)
	if err != nil {
		t.Fatalf("Violations: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 violations, got %d", n)
	}

	// Past the lookback the live count reads as zero.
	n, err = Violations(ctx, db, "k", now+lookback+1, lookback)
	if err != nil {
		t.Fatalf("Violations after lookback: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 after lookback, got %d", n)
	}

	// A fresh violation after expiry restarts the counter at 1.
	if err := RecordViolation(ctx, db, "k", now+lookback+2, lookback); err != nil {
		t.Fatalf("RecordViolation post-expiry: %v", err)
	}
	n, err = Violations(ctx, db, "k", now+lookback+3, lookback)
	if err != nil {
		t.Fatalf("Violations post-expiry: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected restart at 1, got %d", n)
	}
}

func TestViolations_MissingKeyIsZero(t *testing.T) {
	db := newRateRepoDB(t)
	n, err := Violations(context.Background(), db, "ghost", 1000, 1000)
	if err != nil {
		t.Fatalf("Violations: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 for missing key, got %d", n)
	}
}

func TestPurgeExpiredWindows(t *testing.T) {
	db := newRateRepoDB(t)
	ctx := context.Background()

	if _, _, err := IncrementWindow(ctx, db, "old", 1000, 60_000); err != nil {
		t.Fatalf("seed old: %v", err)
	}
	if _, _, err := IncrementWindow(ctx, db, "new", 500_000, 60_000); err != nil {
		t.Fatalf("seed new: %v", err)
	}

	deleted, err := PurgeExpiredWindows(ctx, db, 100_000)
	if err != nil {
		t.Fatalf("PurgeExpiredWindows: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	var count int64
	if err := db.Model(&domain.RateLimitRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 remaining, got %d", count)
	}
}
