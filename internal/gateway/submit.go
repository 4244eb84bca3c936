package gateway

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Submit checks payload the way the consumer will and appends it to the
// command stream. Malformed commands never reach the stream.
func Submit(ctx context.Context, bus domain.SignalBus, stream string, payload []byte) (Command, error) {
	cmd, err := DecodeCommand(payload)
	if err != nil {
		return Command{}, err
	}
	if err := bus.StreamAppend(ctx, stream, payload); err != nil {
		return Command{}, fmt.Errorf("gateway: submit %s: %w", cmd.ID, err)
	}
	return cmd, nil
}
