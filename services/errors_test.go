package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestMapStoreError(t *testing.T) {
	domain := fmt.Errorf("%w: balance 10, delta -20", ErrInsufficientBalance)
	plain := errors.New("connection refused")

	cases := []struct {
		name string
		in   error
		want error
	}{
		{"duplicated key", gorm.ErrDuplicatedKey, ErrConcurrentModification},
		{"unique constraint", errors.New("UNIQUE constraint failed: ledger_entries.idempotency_key"), ErrConcurrentModification},
		{"mysql duplicate", errors.New("Error 1062 (23000): Duplicate entry '7-profile'"), ErrConcurrentModification},
		{"sqlite locked", errors.New("database is locked"), ErrConcurrentModification},
		{"mysql deadlock", errors.New("Error 1213 (40001): Deadlock found when trying to get lock"), ErrConcurrentModification},
		{"postgres serialization", errors.New("ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)"), ErrConcurrentModification},
		{"canceled", context.Canceled, context.Canceled},
		{"other", plain, plain},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapStoreError("op", tc.in)
			if !errors.Is(got, tc.want) {
				t.Fatalf("mapStoreError(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}

	if got := mapStoreError("op", domain); got != domain {
		t.Fatalf("domain error rewrapped: %v", got)
	}
	if mapStoreError("op", nil) != nil {
		t.Fatalf("nil mapped to an error")
	}
	if errors.Is(mapStoreError("op", context.Canceled), ErrConcurrentModification) {
		t.Fatalf("cancellation reported as a lost race")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		in   error
		want bool
	}{
		{gorm.ErrDuplicatedKey, true},
		{fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{errors.New("UNIQUE constraint failed: user_badges.user_id"), true},
		{errors.New("Duplicate entry 'x' for key 'idx'"), true},
		{errors.New("deadlock detected"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := isUniqueViolation(tc.in); got != tc.want {
			t.Fatalf("isUniqueViolation(%v) = %v", tc.in, got)
		}
	}
}

func TestRetryOnce(t *testing.T) {
	calls := 0
	err := retryOnce(func() error {
		calls++
		if calls == 1 {
			return fmt.Errorf("%w: lost", ErrConcurrentModification)
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("recoverable race: err=%v calls=%d", err, calls)
	}

	calls = 0
	err = retryOnce(func() error {
		calls++
		return fmt.Errorf("%w: lost again", ErrConcurrentModification)
	})
	if !errors.Is(err, ErrConcurrentModification) || calls != 2 {
		t.Fatalf("persistent race: err=%v calls=%d", err, calls)
	}

	calls = 0
	err = retryOnce(func() error {
		calls++
		return ErrInsufficientBalance
	})
	if !errors.Is(err, ErrInsufficientBalance) || calls != 1 {
		t.Fatalf("domain error retried: err=%v calls=%d", err, calls)
	}
}
