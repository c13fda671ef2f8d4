package pairing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store"
)

// BlockResult describes the outcome of BlockUser.
type BlockResult struct {
	// Blocked is false when no client currently holds the target connection.
	Blocked  bool
	DeviceID string
	// Message is the text shown to the blocked side.
	Message string
}

// BlockUser records a block against whichever device currently holds
// targetConnID and unmaps that connection so it can no longer be matched or
// reached through the device. An unknown target records nothing.
func (s *Service) BlockUser(ctx context.Context, targetConnID string) (BlockResult, error) {
	if targetConnID == "" {
		return BlockResult{}, ErrMissingPartner
	}
	now := s.clock.Now()
	c, err := s.store.BlockClientByConnection(ctx, targetConnID, now)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("block target not mapped to a device", "conn_id", targetConnID)
		return BlockResult{}, nil
	}
	if err != nil {
		return BlockResult{}, fmt.Errorf("block user: %w", err)
	}

	s.metrics.Inc(metrics.ClientBlocked)
	s.logger.Info("client blocked", "device_id", c.DeviceID, "conn_id", targetConnID, "blocks", len(c.Blocks))
	return BlockResult{
		Blocked:  true,
		DeviceID: c.DeviceID,
		Message:  BlockMessage(s.blockDuration),
	}, nil
}

// activeBlock reports whether c is blocked at now and for how much longer.
// Only the newest active event counts, so a fresh block replaces the
// remaining time of any older one.
func (s *Service) activeBlock(c store.Client, now time.Time) (time.Duration, bool) {
	ev, ok := c.ActiveBlock(now, s.blockDuration)
	if !ok {
		return 0, false
	}
	return s.blockDuration - now.Sub(ev.At), true
}

// BlockMessage renders the wait text for a block with the given time left.
// Minutes round up and never drop below one.
func BlockMessage(remaining time.Duration) string {
	minutes := int(math.Ceil(remaining.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("You’ve been temporarily blocked due to unusual activity. Please wait %d minutes and try again.", minutes)
}
