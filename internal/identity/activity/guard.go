// Package activity detects persons who are in the middle of being invited,
// for whom automatic merges are held back.
package activity

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/identity/ports"
	id "rollcall/pkg/domain"
	"rollcall/pkg/requestcontext"
)

// DefaultWindow is how far back an invitation still counts as recent.
const DefaultWindow = 24 * time.Hour

// Guard answers recent-invitation questions against the invitation store.
type Guard struct {
	invitations ports.InvitationStore
	window      time.Duration
}

// Option configures a Guard.
type Option func(*Guard)

// WithWindow overrides DefaultWindow. Non-positive values are ignored.
func WithWindow(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.window = d
		}
	}
}

func New(invitations ports.InvitationStore, opts ...Option) *Guard {
	g := &Guard{invitations: invitations, window: DefaultWindow}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Window returns the configured recency window.
func (g *Guard) Window() time.Duration {
	return g.window
}

// HasRecentInvitation reports whether any live membership of the person
// received an invitation within the configured window.
func (g *Guard) HasRecentInvitation(ctx context.Context, personID id.PersonID) (bool, error) {
	return g.HasRecentInvitationWithin(ctx, personID, g.window)
}

// HasRecentInvitationWithin is HasRecentInvitation with an explicit window.
// An invitation created exactly window ago is not recent.
func (g *Guard) HasRecentInvitationWithin(ctx context.Context, personID id.PersonID, window time.Duration) (bool, error) {
	since := requestcontext.Now(ctx).Add(-window)
	recent, err := g.invitations.ExistsForPersonSince(ctx, personID, since)
	if err != nil {
		return false, fmt.Errorf("check recent invitations for %s: %w", personID, err)
	}
	return recent, nil
}

// EitherRecent reports whether a or b has a recent invitation.
func (g *Guard) EitherRecent(ctx context.Context, a, b id.PersonID) (bool, error) {
	recent, err := g.HasRecentInvitation(ctx, a)
	if err != nil || recent {
		return recent, err
	}
	return g.HasRecentInvitation(ctx, b)
}
