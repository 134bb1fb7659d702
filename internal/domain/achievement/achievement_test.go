package achievement

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

type stubFacts struct {
	actions   map[points.ActionKind]int64
	referrals int64
	streak    int
	total     int64
}

func (f stubFacts) CountActions(_ context.Context, kind points.ActionKind) (int64, error) {
	return f.actions[kind], nil
}
func (f stubFacts) CountReferrals(context.Context) (int64, error) { return f.referrals, nil }
func (f stubFacts) CurrentStreak() int                          { return f.streak }
func (f stubFacts) TotalPoints() int64                          { return f.total }

func TestRequirementCodec(t *testing.T) {
	tests := []struct {
		req  Requirement
		json string
	}{
		{ActionCount{Kind: points.ActionTradeCompleted, Count: 100}, `{"type":"action_count","kind":"TRADE_COMPLETED","count":100}`},
		{StreakLength{Count: 7}, `{"type":"streak_length","count":7}`},
		{ReferralCount{Count: 5}, `{"type":"referral_count","count":5}`},
		{TotalPoints{Threshold: 1000}, `{"type":"total_points","threshold":1000}`},
	}

	for _, tt := range tests {
		t.Run(tt.req.Type(), func(t *testing.T) {
			data, err := MarshalRequirement(tt.req)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(data))

			decoded, err := UnmarshalRequirement([]byte(tt.json))
			require.NoError(t, err)
			assert.Equal(t, tt.req, decoded)
		})
	}
}

func TestUnmarshalRequirement_Rejects(t *testing.T) {
	inputs := []string{
		`{"type":"mystery","count":1}`,
		`{"type":"action_count","kind":"NOPE","count":1}`,
		`{"type":"streak_length","count":0}`,
		`not json`,
	}
	for _, in := range inputs {
		_, err := UnmarshalRequirement([]byte(in))
		assert.Error(t, err, in)
		assert.True(t, shared.IsValidation(err), in)
	}
}

func TestCatalog(t *testing.T) {
	defs := Catalog()
	require.Len(t, defs, 13)

	names := map[string]bool{}
	ids := map[uuid.UUID]bool{}
	for _, d := range defs {
		assert.False(t, names[d.Name], "duplicate name %s", d.Name)
		assert.False(t, ids[d.ID], "duplicate id for %s", d.Name)
		names[d.Name] = true
		ids[d.ID] = true
		assert.Equal(t, IDForSlug(d.Slug), d.ID)
	}

	// ids are stable across calls
	assert.Equal(t, defs[0].ID, Catalog()[0].ID)
	assert.Equal(t, "loyal-user", defs[6].Slug)
}

func TestNewlySatisfied(t *testing.T) {
	ctx := context.Background()
	defs := Catalog()
	facts := stubFacts{
		actions: map[points.ActionKind]int64{points.ActionTradeCompleted: 1},
		streak:  7,
		total:   150,
	}

	hits, err := NewlySatisfied(ctx, defs, map[uuid.UUID]bool{}, facts)
	require.NoError(t, err)

	var names []string
	for _, d := range hits {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"First Trade", "Loyal User"}, names)

	unlocked := map[uuid.UUID]bool{}
	for _, d := range hits {
		unlocked[d.ID] = true
	}
	again, err := NewlySatisfied(ctx, defs, unlocked, facts)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestNewDefinition_Validation(t *testing.T) {
	_, err := NewDefinition("", "x", CategorySocial, 10, StreakLength{Count: 1})
	assert.True(t, shared.IsValidation(err))

	_, err = NewDefinition("X", "x", Category("nope"), 10, StreakLength{Count: 1})
	assert.True(t, shared.IsValidation(err))

	_, err = NewDefinition("X", "x", CategorySocial, -1, StreakLength{Count: 1})
	assert.True(t, shared.IsValidation(err))

	_, err = NewDefinition("X", "x", CategorySocial, 1, nil)
	assert.True(t, shared.IsValidation(err))
}
