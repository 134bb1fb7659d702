package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/internal/application/command"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/internal/infrastructure/persistence/memory"
	"github.com/bonkcomputer/points-engine/pkg/retry"
)

type fixture struct {
	store  *memory.Store
	saga   *OnboardingSaga
	create *command.CreateUserHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	cfg := command.DefaultEngineConfig()
	cfg.Clock = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	pipeline, err := command.NewPipeline(store, nil, nil, cfg)
	require.NoError(t, err)

	create := command.NewCreateUserHandler(pipeline, nil)
	saga := NewOnboardingSaga(
		create,
		command.NewAwardHandler(pipeline, nil),
		command.NewBindReferralHandler(pipeline, nil),
		nil,
		OnboardingSagaConfig{Retrier: retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond), retry.WithRetryIf(shared.IsTransient))},
	)
	return &fixture{store: store, saga: saga, create: create}
}

func TestOnboarding_WithoutReferral(t *testing.T) {
	f := newFixture(t)

	res, err := f.saga.Execute(context.Background(), OnboardingInput{UserID: "alice", DisplayName: "Alice"})
	require.NoError(t, err)

	assert.Equal(t, int64(100), res.User.TotalPoints)
	assert.True(t, res.ProfileAward.Accepted)
	assert.Nil(t, res.Referral)
	assert.Empty(t, res.ReferralError)
}

func TestOnboarding_WithReferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, err := f.saga.Execute(ctx, OnboardingInput{UserID: "alice", DisplayName: "Alice"})
	require.NoError(t, err)

	bob, err := f.saga.Execute(ctx, OnboardingInput{UserID: "bob", DisplayName: "Bob", ReferralCode: alice.User.ReferralCode})
	require.NoError(t, err)

	require.NotNil(t, bob.Referral)
	assert.True(t, bob.Referral.Success)
	assert.Equal(t, int64(100+250), bob.User.TotalPoints)
	assert.Equal(t, shared.UserID("alice"), bob.User.ReferredBy)

	a, err := f.create.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(600), a.TotalPoints)
}

func TestOnboarding_UnknownCodeKeepsUser(t *testing.T) {
	f := newFixture(t)

	res, err := f.saga.Execute(context.Background(), OnboardingInput{UserID: "bob", DisplayName: "Bob", ReferralCode: "QQQQQQQQ"})
	require.NoError(t, err)

	assert.Contains(t, res.ReferralError, command.BindReasonUnknownCode)
	assert.Equal(t, int64(100), res.User.TotalPoints)
	assert.False(t, res.User.HasReferrer())
}

func TestOnboarding_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.saga.Execute(ctx, OnboardingInput{UserID: "alice"})
	var oerr *OnboardingError
	require.True(t, errors.As(err, &oerr))
	assert.Equal(t, StepValidateInput, oerr.Step)
	assert.False(t, oerr.IsRetryable())

	_, err = f.saga.Execute(ctx, OnboardingInput{UserID: "alice", DisplayName: "Alice"})
	require.NoError(t, err)
	_, err = f.saga.Execute(ctx, OnboardingInput{UserID: "alice", DisplayName: "Alice"})
	require.True(t, errors.As(err, &oerr))
	assert.Equal(t, StepCreateUser, oerr.Step)
	assert.True(t, shared.IsAlreadyExists(err))
}
