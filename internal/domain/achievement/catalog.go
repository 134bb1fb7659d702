package achievement

import (
	"fmt"

	"github.com/bonkcomputer/points-engine/internal/domain/points"
)

type seed struct {
	name        string
	description string
	category    Category
	reward      int64
	req         Requirement
}

var catalog = []seed{
	{"First Trade", "Complete your first trade", CategoryTrading, 50, ActionCount{Kind: points.ActionTradeCompleted, Count: 1}},
	{"Active Trader", "Complete 100 trades", CategoryTrading, 500, ActionCount{Kind: points.ActionTradeCompleted, Count: 100}},
	{"Conversationalist", "Post 10 comments", CategorySocial, 50, ActionCount{Kind: points.ActionCommentCreated, Count: 10}},
	{"Social Butterfly", "Follow 25 users", CategorySocial, 100, ActionCount{Kind: points.ActionFollowUser, Count: 25}},
	{"Generous Heart", "Give 50 likes", CategorySocial, 50, ActionCount{Kind: points.ActionLikeGiven, Count: 50}},
	{"Regular", "Log in on 50 days", CategoryStreak, 250, ActionCount{Kind: points.ActionDailyLogin, Count: 50}},
	{"Loyal User", "Log in 7 days in a row", CategoryStreak, 200, StreakLength{Count: 7}},
	{"Dedicated", "Log in 30 days in a row", CategoryStreak, 1000, StreakLength{Count: 30}},
	{"Centurion", "Log in 100 days in a row", CategoryStreak, 5000, StreakLength{Count: 100}},
	{"Recruiter", "Refer 5 users", CategoryReferral, 500, ReferralCount{Count: 5}},
	{"Ambassador", "Refer 25 users", CategoryReferral, 2500, ReferralCount{Count: 25}},
	{"Rising Star", "Reach 1,000 points", CategoryMilestone, 100, TotalPoints{Threshold: 1000}},
	{"Point Hoarder", "Reach 10,000 points", CategoryMilestone, 1000, TotalPoints{Threshold: 10000}},
}

// Catalog returns the seed definitions. Names are unique.
func Catalog() []*Definition {
	defs := make([]*Definition, 0, len(catalog))
	for _, s := range catalog {
		d, err := NewDefinition(s.name, s.description, s.category, s.reward, s.req)
		if err != nil {
			panic(fmt.Sprintf("achievement catalog: %s: %v", s.name, err))
		}
		defs = append(defs, d)
	}
	return defs
}
