package auth

import (
	"context"
	"fmt"

	"github.com/eventpulse/chat-service/pkg/model"
)

// ParticipantReader answers membership questions from the durable store.
type ParticipantReader interface {
	IsActiveParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// UserReader resolves identity reference data.
type UserReader interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
}

// Gate performs the per-operation authorization checks. Room membership is
// never consulted here: membership is a fan-out optimisation and may be
// stale, so every state-changing action re-checks against the store.
type Gate struct {
	participants ParticipantReader
	users        UserReader

	// RequirePublicProfile restricts sending and typing broadcasts to
	// users whose profile is public. Receiving is never gated.
	RequirePublicProfile bool
}

func NewGate(participants ParticipantReader, users UserReader, requirePublic bool) *Gate {
	return &Gate{participants: participants, users: users, RequirePublicProfile: requirePublic}
}

// Authenticate resolves a validated token's subject against the user
// directory. A token whose user no longer exists is unauthenticated.
func (g *Gate) Authenticate(ctx context.Context, claims *Claims) (*model.User, error) {
	u, err := g.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown user %q", ErrUnauthenticated, claims.UserID)
	}
	return u, nil
}

// AuthorizeParticipant reports whether userID is an active participant of
// the conversation.
func (g *Gate) AuthorizeParticipant(ctx context.Context, userID, conversationID string) (bool, error) {
	return g.participants.IsActiveParticipant(ctx, conversationID, userID)
}

// AuthorizeVisibility applies the public-profile policy to an outbound
// action. Returns true when the policy is disabled.
func (g *Gate) AuthorizeVisibility(ctx context.Context, userID string) (bool, error) {
	if !g.RequirePublicProfile {
		return true, nil
	}
	u, err := g.users.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.ProfilePublic, nil
}
