package models

// All lists every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&Account{},
		&LedgerEntry{},
		&Badge{},
		&UserBadge{},
		&QuizAttempt{},
		&Reward{},
		&RedemptionRecord{},
	}
}
