package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Domain errors returned by the loyalty engine. Callers match them with errors.Is;
// most are wrapped with extra detail.
var (
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrRewardNotFound         = errors.New("reward not found")
	ErrRewardOutOfStock       = errors.New("reward out of stock")
	ErrQuizAlreadyCompleted   = errors.New("quiz already completed today")
	ErrInvalidQuizAnswers     = errors.New("invalid quiz answers")
	ErrBadgeCriteria          = errors.New("badge criteria error")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrUnknownAction          = errors.New("unknown action type")
	ErrDuplicateEntry         = errors.New("ledger entry already recorded")
	ErrLedgerMismatch         = errors.New("ledger mismatch")
)

var domainErrors = []error{
	ErrInsufficientBalance,
	ErrRewardNotFound,
	ErrRewardOutOfStock,
	ErrQuizAlreadyCompleted,
	ErrInvalidQuizAnswers,
	ErrBadgeCriteria,
	ErrConcurrentModification,
	ErrInvalidAmount,
	ErrUnknownAction,
	ErrDuplicateEntry,
	ErrLedgerMismatch,
}

// IsDomainError reports whether err carries one of the engine's domain errors.
func IsDomainError(err error) bool {
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}

// mapStoreError translates storage failures into domain errors so raw driver
// errors never cross a component boundary.
func mapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", op, ErrConcurrentModification)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "duplicate"),
		strings.Contains(msg, "unique constraint"):
		return fmt.Errorf("%s: %w", op, ErrConcurrentModification)
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "could not serialize"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"):
		return fmt.Errorf("%s: %w", op, ErrConcurrentModification)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}

// retryOnce runs fn and runs it a second time when the first attempt lost a
// concurrency race.
func retryOnce(fn func() error) error {
	err := fn()
	if errors.Is(err, ErrConcurrentModification) {
		err = fn()
	}
	return err
}
