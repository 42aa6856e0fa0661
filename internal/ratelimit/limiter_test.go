package ratelimit

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

func newLimiterDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("limiter_test_%d.db", time.Now().UnixNano()))
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
	if migrate {
		if err := db.AutoMigrate(&domain.RateLimitRecord{}); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestKey_Composite(t *testing.T) {
	if got := Key("u1", "abcdef"); got != "u1:abcdef" {
		t.Fatalf("unexpected key: %q", got)
	}
}

func TestCheck_AllowsUpToMaxThenDenies(t *testing.T) {
	db := newLimiterDB(t, true)
	l := NewLimiter(db, time.Hour)
	cfg := Config{Window: time.Minute, Max: 3}
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := l.Check(ctx, "k", cfg)
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if res.Total != i {
			t.Fatalf("request %d: expected total %d, got %d", i, i, res.Total)
		}
		if want := 3 - i; res.Remaining != want {
			t.Fatalf("request %d: expected remaining %d, got %d", i, want, res.Remaining)
		}
	}

	res := l.Check(ctx, "k", cfg)
	if res.Allowed {
		t.Fatalf("4th request must be denied")
	}
	if res.Remaining != 0 {
		t.Fatalf("denied request must report 0 remaining, got %d", res.Remaining)
	}
	if res.ResetAt.Before(time.Now().UTC()) {
		t.Fatalf("ResetAt must be in the future, got %v", res.ResetAt)
	}
}

func TestCheck_WindowRollover(t *testing.T) {
	db := newLimiterDB(t, true)
	l := NewLimiter(db, time.Hour)
	// A window short enough to expire within the test.
	cfg := Config{Window: 50 * time.Millisecond, Max: 1}
	ctx := context.Background()

	if res := l.Check(ctx, "k", cfg); !res.Allowed {
		t.Fatalf("first request should pass")
	}
	if res := l.Check(ctx, "k", cfg); res.Allowed {
		t.Fatalf("second request in window must be denied")
	}

	time.Sleep(60 * time.Millisecond)

	if res := l.Check(ctx, "k", cfg); !res.Allowed {
		t.Fatalf("request after window rollover should pass")
	}
}

func TestCheck_IndependentKeys(t *testing.T) {
	db := newLimiterDB(t, true)
	l := NewLimiter(db, time.Hour)
	cfg := Config{Window: time.Minute, Max: 1}
	ctx := context.Background()

	if res := l.Check(ctx, "a", cfg); !res.Allowed {
		t.Fatalf("key a should pass")
	}
	if res := l.Check(ctx, "a", cfg); res.Allowed {
		t.Fatalf("key a should now be limited")
	}
	if res := l.Check(ctx, "b", cfg); !res.Allowed {
		t.Fatalf("key b must have its own budget")
	}
}

func TestCheck_FailOpenWhenStoreBroken(t *testing.T) {
	// No migration: every store call errors, but requests must still pass.
	db := newLimiterDB(t, false)
	l := NewLimiter(db, time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res := l.Check(ctx, "k", Config{Window: time.Minute, Max: 1})
		if !res.Allowed {
			t.Fatalf("fail-open violated on request %d", i+1)
		}
	}
}
