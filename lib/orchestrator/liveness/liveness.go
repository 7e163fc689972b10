// Package liveness implements the Liveness Gateway of §4.8: a single
// Ping operation that advances a user's last-seen timestamp given
// only the instance ID. Thin by design, per the spec's own framing of
// this as a lightweight gateway.
package liveness

import (
	"context"

	"github.com/fogscale/workbench/lib/orchestrator/clock"
	"github.com/fogscale/workbench/lib/orchestrator/store"
	"github.com/fogscale/workbench/lib/orchestrator/wberrors"
)

// Gateway implements Ping against a SessionStore.
type Gateway struct {
	Session store.SessionStore
	Clock   clock.Clock
}

func New(session store.SessionStore, clk clock.Clock) *Gateway {
	return &Gateway{Session: session, Clock: clk}
}

// Ping resolves instanceID to its owning user and advances that
// user's lastSeen to now. Returns NotFound if the instance has no
// owner (§4.8: "no authentication beyond knowledge of the instance
// ID; security is delegated to the network boundary").
func (g *Gateway) Ping(ctx context.Context, instanceID string) error {
	userID, ok, err := g.Session.GetUserForInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if !ok {
		return wberrors.Newf(wberrors.NotFound, "no workspace owns instance %s", instanceID)
	}
	return g.Session.UpdatePing(ctx, userID, g.Clock.Now().UnixMilli())
}
