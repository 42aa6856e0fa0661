// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the storage primitives for the
// database-backed rate limiter.
//
// The window increment is a single INSERT .. ON CONFLICT DO UPDATE statement
// with the rollover folded into CASE expressions, so two concurrent requests
// for the same key can never both observe count=N and write N+1. This is the
// one place in the schema that requires atomic increment-and-compare
// semantics rather than read-then-write.
package repo

import (
	"context"

	"gorm.io/gorm"
)

// incrementWindowSQL bumps the counter for a key, resetting the window first
// when it has expired, and returns the post-increment state.
const incrementWindowSQL = `
INSERT INTO rate_limit_records ("key", count, window_start_ms, last_request_ms, violations, violations_start_ms)
VALUES (?, 1, ?, ?, 0, 0)
ON CONFLICT("key") DO UPDATE SET
    count           = CASE WHEN rate_limit_records.window_start_ms < ? THEN 1 ELSE rate_limit_records.count + 1 END,
    window_start_ms = CASE WHEN rate_limit_records.window_start_ms < ? THEN excluded.window_start_ms ELSE rate_limit_records.window_start_ms END,
    last_request_ms = excluded.last_request_ms
RETURNING count, window_start_ms`

// IncrementWindow atomically records one request for key at nowMs against a
// fixed window of windowMs. It returns the count within the current window
// and the window start, after the increment.
func IncrementWindow(ctx context.Context, db *gorm.DB, key string, nowMs, windowMs int64) (count int, windowStartMs int64, err error) {
	expiredBefore := nowMs - windowMs
	row := db.WithContext(ctx).Raw(incrementWindowSQL,
		key, nowMs, nowMs, // insert values
		expiredBefore, expiredBefore, // rollover comparisons
	).Row()
	if err = row.Scan(&count, &windowStartMs); err != nil {
		return 0, 0, err
	}
	return count, windowStartMs, nil
}

// recordViolationSQL bumps the violation counter with its own fixed lookback,
// mirroring the window rollover logic above.
const recordViolationSQL = `
UPDATE rate_limit_records SET
    violations          = CASE WHEN violations_start_ms < ? THEN 1 ELSE violations + 1 END,
    violations_start_ms = CASE WHEN violations_start_ms < ? THEN ? ELSE violations_start_ms END
WHERE "key" = ?`

// RecordViolation increments the violation counter for key, resetting it
// when the lookback window has elapsed.
func RecordViolation(ctx context.Context, db *gorm.DB, key string, nowMs, lookbackMs int64) error {
	expiredBefore := nowMs - lookbackMs
	return db.WithContext(ctx).
		Exec(recordViolationSQL, expiredBefore, expiredBefore, nowMs, key).Error
}

// Violations returns the live violation count for key, treating an expired
// lookback window as zero. A missing record is also zero.
func Violations(ctx context.Context, db *gorm.DB, key string, nowMs, lookbackMs int64) (int, error) {
	var out struct {
		Violations        int
		ViolationsStartMs int64
	}
	err := db.WithContext(ctx).
		Table("rate_limit_records").
		Select("violations", "violations_start_ms").
		Where(`"key" = ?`, key).
		Take(&out).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if out.ViolationsStartMs < nowMs-lookbackMs {
		return 0, nil
	}
	return out.Violations, nil
}

// PurgeExpiredWindows deletes records whose window start precedes the oldest
// window boundary still in use. Violation state is deliberately allowed to
// die with the row; a purged key starts from a clean slate.
func PurgeExpiredWindows(ctx context.Context, db *gorm.DB, olderThanMs int64) (int64, error) {
	res := db.WithContext(ctx).
		Exec(`DELETE FROM rate_limit_records WHERE window_start_ms < ? AND violations_start_ms < ?`,
			olderThanMs, olderThanMs)
	return res.RowsAffected, res.Error
}
