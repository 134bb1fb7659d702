package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/referral"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE USER COMMAND
// Creates the aggregate with a unique referral code. Awarding PROFILE_CREATION
// and binding a referral are orchestrated by the onboarding saga.
// ══════════════════════════════════════════════════════════════════════════════

// CreateUserCommand contains the data to create a user.
type CreateUserCommand struct {
	// UserID is the identity provider's id. Generated when empty.
	UserID string

	DisplayName string
}

// Validate validates the command.
func (c CreateUserCommand) Validate() error {
	if c.UserID != "" && !shared.UserID(c.UserID).IsValid() {
		return fmt.Errorf("create_user: %w", shared.ErrInvalidUserID)
	}
	if strings.TrimSpace(c.DisplayName) == "" {
		return fmt.Errorf("create_user: %w", shared.ErrEmptyDisplayName)
	}
	return nil
}

// CreateUserHandler handles the CreateUserCommand.
type CreateUserHandler struct {
	pipeline *Pipeline
	log      *logger.Logger
}

// NewCreateUserHandler creates a new CreateUserHandler.
func NewCreateUserHandler(pipeline *Pipeline, log *logger.Logger) *CreateUserHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &CreateUserHandler{pipeline: pipeline, log: log}
}

// Handle creates the user. Referral code collisions are resolved by
// re-deriving with the next nonce.
func (h *CreateUserHandler) Handle(ctx context.Context, cmd CreateUserCommand) (*points.User, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	id := shared.UserID(cmd.UserID)
	if id == "" {
		id = shared.UserID(uuid.NewString())
	}
	now := h.pipeline.now()

	for nonce := 0; nonce < referral.MaxCodeAttempts; nonce++ {
		user, err := points.NewUser(id, cmd.DisplayName, referral.GenerateCode(id, nonce), now)
		if err != nil {
			return nil, fmt.Errorf("create_user: %w", err)
		}

		err = h.pipeline.store.CreateUser(ctx, user)
		switch {
		case err == nil:
			h.pipeline.publish([]shared.Event{shared.NewUserCreatedEvent(id.String(), user.DisplayName, user.ReferralCode, now)})
			h.log.Info("user created", logger.UserID(id.String()), logger.ReferralCode(user.ReferralCode))
			return user, nil
		case shared.IsConflict(err) && !shared.IsAlreadyExists(err):
			// referral code taken, try the next nonce
			continue
		default:
			return nil, fmt.Errorf("create_user: %w", err)
		}
	}
	return nil, fmt.Errorf("create_user: %w", shared.ErrReferralCodeTaken)
}

// Get loads a user by id.
func (h *CreateUserHandler) Get(ctx context.Context, id shared.UserID) (*points.User, error) {
	user, err := h.pipeline.store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get_user: %w", err)
	}
	return user, nil
}
