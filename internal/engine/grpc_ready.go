package engine

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

// waitForReady blocks until the engine channel is Ready, logging each
// intermediate state. TransientFailure keeps waiting so an engine that is
// still starting up gets the whole dial timeout.
func waitForReady(ctx context.Context, conn *grpc.ClientConn, logger *slog.Logger) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return fmt.Errorf("engine connection to %s shut down", conn.Target())
		}
		logger.Debug("waiting for engine connection", "target", conn.Target(), "state", state.String())

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return fmt.Errorf("engine still %s: %w", state.String(), ctx.Err())
			}
			return fmt.Errorf("engine readiness wait timed out in state %s", state.String())
		}
	}
}
