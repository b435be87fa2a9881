package services

import "github.com/soriano-club/clubapi/models"

// DefaultBadges is the Soriano Club badge catalog.
func DefaultBadges() []BadgeDefinition {
	return []BadgeDefinition{
		{
			Code: "WELCOME", Name: "Welcome Aboard",
			Description: "Complete your customer profile.",
			Criteria:    func(s Stats) bool { return s.Account.ProfileCompleted },
		},
		{
			Code: "FIRST_POLICY", Name: "Protected",
			Description:  "Buy your first policy through the portal.",
			RewardPoints: 50,
			Criteria:     func(s Stats) bool { return s.Account.PolicyCount >= 1 },
		},
		{
			Code: "POLICY_COLLECTOR", Name: "Fully Covered",
			Description:  "Hold three or more policies.",
			RewardPoints: 150,
			Criteria:     func(s Stats) bool { return s.Account.PolicyCount >= 3 },
		},
		{
			Code: "AMBASSADOR", Name: "Ambassador",
			Description:  "A friend you referred became a customer.",
			RewardPoints: 100,
			Criteria:     func(s Stats) bool { return s.Account.ReferralCount >= 1 },
		},
		{
			Code: "CHATTERBOX", Name: "Curious Mind",
			Description: "Ask the assistant ten questions.",
			Criteria:    func(s Stats) bool { return s.Account.ChatUsageCount >= 10 },
		},
		{
			Code: "STREAK_7", Name: "Week Warrior",
			Description: "Visit the portal seven days in a row.",
			Criteria:    func(s Stats) bool { return s.Account.LongestStreak >= 7 },
		},
		{
			Code: "STREAK_30", Name: "Creature of Habit",
			Description:  "Visit the portal thirty days in a row.",
			RewardPoints: 300,
			Criteria:     func(s Stats) bool { return s.Account.LongestStreak >= 30 },
		},
		{
			Code: "QUIZ_ROOKIE", Name: "Quiz Rookie",
			Description: "Complete your first daily quiz.",
			Criteria:    func(s Stats) bool { return s.Account.QuizzesCompleted >= 1 },
		},
		{
			Code: "QUIZ_MASTER", Name: "Insurance Scholar",
			Description:  "Complete twenty daily quizzes.",
			RewardPoints: 200,
			Criteria:     func(s Stats) bool { return s.Account.QuizzesCompleted >= 20 },
		},
		{
			Code: "SILVER_MEMBER", Name: "Silver Member",
			Description: "Reach the Silver tier.",
			Criteria:    func(s Stats) bool { return TierRank(s.Account.Tier) >= TierRank(models.TierSilver) },
		},
		{
			Code: "GOLD_MEMBER", Name: "Gold Member",
			Description: "Reach the Gold tier.",
			Criteria:    func(s Stats) bool { return TierRank(s.Account.Tier) >= TierRank(models.TierGold) },
		},
		{
			Code: "FIRST_REDEMPTION", Name: "Treat Yourself",
			Description: "Redeem your first reward in the marketplace.",
			Criteria:    func(s Stats) bool { return s.Account.RedemptionCount >= 1 },
		},
		{
			Code: "BIG_SPENDER", Name: "Big Spender", Secret: true,
			Description: "Redeem five rewards.",
			Criteria:    func(s Stats) bool { return s.Account.RedemptionCount >= 5 },
		},
		{
			Code: "COLLECTOR", Name: "Badge Hunter", Secret: true,
			Description:  "Unlock eight other badges.",
			RewardPoints: 250,
			Criteria:     func(s Stats) bool { return s.BadgeCount >= 8 },
		},
	}
}
