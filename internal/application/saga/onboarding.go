// Package saga contains business processes that orchestrate several engine
// operations in a coordinated manner. Each step is its own transaction; a
// saga never holds a lock across steps.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bonkcomputer/points-engine/internal/application/command"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/pkg/logger"
	"github.com/bonkcomputer/points-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// ONBOARDING SAGA
// Business process: registration of a new user
// Flow: Validate → Create User → Award PROFILE_CREATION → Bind Referral → Complete
// ══════════════════════════════════════════════════════════════════════════════

// OnboardingInput contains all data required to onboard a new user.
type OnboardingInput struct {
	// UserID is the identity provider's id. Generated when empty.
	UserID string

	// DisplayName is required.
	DisplayName string

	// ReferralCode of the inviting user (optional).
	ReferralCode string

	CorrelationID string
}

// Validate checks if the input is valid for onboarding.
func (i OnboardingInput) Validate() error {
	if strings.TrimSpace(i.DisplayName) == "" {
		return shared.ErrEmptyDisplayName
	}
	if i.UserID != "" && !shared.UserID(i.UserID).IsValid() {
		return shared.ErrInvalidUserID
	}
	return nil
}

// OnboardingResult contains the result of a successful onboarding.
type OnboardingResult struct {
	// User is the created user after all steps.
	User *points.User `json:"user"`

	// ProfileAward is the PROFILE_CREATION award.
	ProfileAward *command.AwardResult `json:"profile_award"`

	// Referral is set when a referral code was given and the bind ran.
	Referral *command.BindReferralResult `json:"referral,omitempty"`

	// ReferralError is set when the bind failed. The user stays created.
	ReferralError string `json:"referral_error,omitempty"`

	OnboardedAt time.Time `json:"onboarded_at"`
}

// OnboardingStep represents a step in the onboarding process.
type OnboardingStep string

const (
	StepValidateInput OnboardingStep = "validate_input"
	StepCreateUser    OnboardingStep = "create_user"
	StepAwardProfile  OnboardingStep = "award_profile"
	StepBindReferral  OnboardingStep = "bind_referral"
	StepComplete      OnboardingStep = "complete"
)

// OnboardingState tracks the current state of the onboarding saga.
type OnboardingState struct {
	CurrentStep OnboardingStep
	Input       OnboardingInput
	User        *points.User
	StartedAt   time.Time
	FailedStep  OnboardingStep
}

// ══════════════════════════════════════════════════════════════════════════════
// ONBOARDING SAGA IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// OnboardingSaga orchestrates the complete user registration process.
type OnboardingSaga struct {
	createUser   *command.CreateUserHandler
	award        *command.AwardHandler
	bindReferral *command.BindReferralHandler
	retrier      *retry.Retrier
	log          *logger.Logger
	clock        func() time.Time
}

// OnboardingSagaConfig contains configuration for the onboarding saga.
type OnboardingSagaConfig struct {
	// Retrier replays a failed step. Defaults to retry.StoreRetrier(shared.IsTransient).
	Retrier *retry.Retrier
	Clock   func() time.Time
}

// NewOnboardingSaga creates a new onboarding saga.
func NewOnboardingSaga(
	createUser *command.CreateUserHandler,
	award *command.AwardHandler,
	bindReferral *command.BindReferralHandler,
	log *logger.Logger,
	config OnboardingSagaConfig,
) *OnboardingSaga {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("onboarding"))
	if config.Retrier == nil {
		config.Retrier = retry.StoreRetrier(shared.IsTransient,
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				log.Warn("retrying onboarding step",
					logger.Int("attempt", attempt), logger.Duration("delay", delay), logger.Err(err))
			}))
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &OnboardingSaga{
		createUser:   createUser,
		award:        award,
		bindReferral: bindReferral,
		retrier:      config.Retrier,
		log:          log,
		clock:        config.Clock,
	}
}

// Execute runs the complete onboarding process.
// A referral bind failure does not undo the created user; it is reported in
// the result instead.
func (s *OnboardingSaga) Execute(ctx context.Context, input OnboardingInput) (*OnboardingResult, error) {
	state := &OnboardingState{
		CurrentStep: StepValidateInput,
		Input:       input,
		StartedAt:   s.clock(),
	}

	// Step 1: Validate input
	if err := input.Validate(); err != nil {
		state.FailedStep = StepValidateInput
		return nil, s.wrapError(state, err)
	}

	// Step 2: Create the user
	state.CurrentStep = StepCreateUser
	if err := s.stepCreateUser(ctx, state); err != nil {
		state.FailedStep = StepCreateUser
		return nil, s.wrapError(state, err)
	}

	result := &OnboardingResult{}

	// Step 3: Award PROFILE_CREATION
	state.CurrentStep = StepAwardProfile
	award, err := s.stepAwardProfile(ctx, state)
	if err != nil {
		state.FailedStep = StepAwardProfile
		return nil, s.wrapError(state, err)
	}
	result.ProfileAward = award

	// Step 4: Bind referral code (non-critical)
	if strings.TrimSpace(input.ReferralCode) != "" {
		state.CurrentStep = StepBindReferral
		bind, err := s.stepBindReferral(ctx, state)
		if err != nil {
			if ctx.Err() != nil {
				state.FailedStep = StepBindReferral
				return nil, s.wrapError(state, err)
			}
			result.ReferralError = err.Error()
			s.log.Warn("referral bind failed during onboarding",
				logger.UserID(state.User.ID.String()),
				logger.ReferralCode(input.ReferralCode),
				logger.Err(err),
			)
		} else {
			result.Referral = bind
		}
	}

	// Step 5: Complete
	state.CurrentStep = StepComplete
	user, err := s.createUser.Get(ctx, state.User.ID)
	if err != nil {
		return nil, s.wrapError(state, err)
	}
	result.User = user
	result.OnboardedAt = s.clock()

	s.log.Info("user onboarded",
		logger.UserID(user.ID.String()),
		logger.Int64("total_points", user.TotalPoints),
		logger.Bool("referred", user.HasReferrer()),
		logger.Latency(result.OnboardedAt.Sub(state.StartedAt)),
	)
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STEP IMPLEMENTATIONS
// ══════════════════════════════════════════════════════════════════════════════

// stepCreateUser creates the aggregate. A replay after a commit whose reply
// was lost finds the user already present and adopts it.
func (s *OnboardingSaga) stepCreateUser(ctx context.Context, state *OnboardingState) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		user, err := s.createUser.Handle(ctx, command.CreateUserCommand{
			UserID:      state.Input.UserID,
			DisplayName: state.Input.DisplayName,
		})
		if err != nil {
			if retry.Attempt(ctx) > 1 && shared.IsAlreadyExists(err) && state.Input.UserID != "" {
				existing, getErr := s.createUser.Get(ctx, shared.UserID(state.Input.UserID))
				if getErr != nil {
					return getErr
				}
				state.User = existing
				return nil
			}
			return err
		}
		state.User = user
		return nil
	})
}

// stepAwardProfile awards PROFILE_CREATION. The kind has a daily limit of one,
// so a replayed attempt is rate-limited instead of double-crediting.
func (s *OnboardingSaga) stepAwardProfile(ctx context.Context, state *OnboardingState) (*command.AwardResult, error) {
	return retry.DoWithData(ctx, func(ctx context.Context) (*command.AwardResult, error) {
		return s.award.Handle(ctx, command.AwardCommand{
			UserID:        state.User.ID.String(),
			Kind:          points.ActionProfileCreation.String(),
			CorrelationID: state.Input.CorrelationID,
		})
	}, retry.WithMaxAttempts(3), retry.WithInitialDelay(50*time.Millisecond), retry.WithRetryIf(shared.IsTransient))
}

func (s *OnboardingSaga) stepBindReferral(ctx context.Context, state *OnboardingState) (*command.BindReferralResult, error) {
	var result *command.BindReferralResult
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		res, err := s.bindReferral.Handle(ctx, command.BindReferralCommand{
			Code:          state.Input.ReferralCode,
			UserID:        state.User.ID.String(),
			CorrelationID: state.Input.CorrelationID,
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, fmt.Errorf("%w: %s", ErrReferralRejected, result.Reason)
	}
	return result, nil
}

// wrapError wraps an error with saga context.
func (s *OnboardingSaga) wrapError(state *OnboardingState, err error) error {
	step := state.FailedStep
	if step == "" {
		step = state.CurrentStep
	}
	return &OnboardingError{
		Step:    step,
		Cause:   err,
		Message: fmt.Sprintf("onboarding failed at step '%s': %v", step, err),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// OnboardingError represents an error during the onboarding process.
type OnboardingError struct {
	Step    OnboardingStep
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *OnboardingError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *OnboardingError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if the whole saga can be run again.
func (e *OnboardingError) IsRetryable() bool {
	if e.Step == StepValidateInput {
		return false
	}
	return shared.IsTransient(e.Cause) || errors.Is(e.Cause, context.DeadlineExceeded)
}

// ErrReferralRejected reports a soft bind failure (unknown code, self-referral).
var ErrReferralRejected = errors.New("onboarding: referral code rejected")
