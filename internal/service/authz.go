package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
)

// Authorizer answers every coach/athlete relationship question. All
// permission checks in the services go through it.
type Authorizer struct {
	users port.UserStore
}

// NewAuthorizer creates an authorizer over the user store.
func NewAuthorizer(users port.UserStore) *Authorizer {
	return &Authorizer{users: users}
}

// IsCoachOf reports whether coachID is the current coach of athleteID.
// An unknown athlete is simply not coached.
func (a *Authorizer) IsCoachOf(ctx context.Context, coachID, athleteID string) (bool, error) {
	if coachID == "" || athleteID == "" || coachID == athleteID {
		return false, nil
	}
	athlete, err := a.users.GetUserByID(ctx, athleteID)
	if errors.Is(err, port.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load athlete: %w", err)
	}
	return athlete.Role == domain.RoleAthlete && athlete.HasCoach(coachID), nil
}

// CoachOf returns the athlete's current coach id, or nil.
func (a *Authorizer) CoachOf(ctx context.Context, athleteID string) (*string, error) {
	athlete, err := a.users.GetUserByID(ctx, athleteID)
	if err != nil {
		return nil, fmt.Errorf("load athlete: %w", err)
	}
	return athlete.CoachID, nil
}

// OwnsResource reports whether the caller owns a resource belonging to ownerID.
func (a *Authorizer) OwnsResource(actor *domain.UserContext, ownerID string) bool {
	return actor != nil && actor.UserID == ownerID
}

// CanActOn allows the owner and the owner's coach, and is Forbidden otherwise.
func (a *Authorizer) CanActOn(ctx context.Context, actor *domain.UserContext, ownerID string) error {
	if actor == nil {
		return port.ErrUnauthenticated
	}
	if a.OwnsResource(actor, ownerID) {
		return nil
	}
	if actor.IsCoach() {
		ok, err := a.IsCoachOf(ctx, actor.UserID, ownerID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return port.Forbidden("you do not have access to this athlete's data")
}

// CanView is CanActOn for resources looked up by id: a denial is reported
// as NotFound so existence is not leaked.
func (a *Authorizer) CanView(ctx context.Context, actor *domain.UserContext, ownerID string) error {
	err := a.CanActOn(ctx, actor, ownerID)
	if errors.Is(err, port.ErrForbidden) {
		return port.ErrNotFound
	}
	return err
}

// CanMessage allows a pair only while one of them coaches the other.
func (a *Authorizer) CanMessage(ctx context.Context, userA, userB string) error {
	ok, err := a.IsCoachOf(ctx, userA, userB)
	if err != nil {
		return err
	}
	if !ok {
		ok, err = a.IsCoachOf(ctx, userB, userA)
		if err != nil {
			return err
		}
	}
	if !ok {
		return port.Forbidden("you can only message your coach or your athletes")
	}
	return nil
}

// RequireCoach rejects callers without the coach role.
func RequireCoach(actor *domain.UserContext) error {
	if actor == nil {
		return port.ErrUnauthenticated
	}
	if !actor.IsCoach() {
		return port.Forbidden("only coaches can perform this action")
	}
	return nil
}

// RequireAthlete rejects callers without the athlete role.
func RequireAthlete(actor *domain.UserContext) error {
	if actor == nil {
		return port.ErrUnauthenticated
	}
	if actor.Role != domain.RoleAthlete {
		return port.Forbidden("only athletes can perform this action")
	}
	return nil
}
