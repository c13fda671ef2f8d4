package pairing

import (
	"context"
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store"
)

// Disconnect tears down connID's pairing on leave or transport close. The
// surviving peer, if any, is told and must join again: the room is always
// deleted whole. Calling it again for the same connection is a no-op.
func (s *Service) Disconnect(ctx context.Context, connID string) error {
	if connID == "" {
		return nil
	}

	var errs []error
	if err := s.store.ClearConnection(ctx, connID); err != nil {
		errs = append(errs, fmt.Errorf("disconnect: clear connection: %w", err))
	}

	// Find and delete in one statement: a peer that claims the free slot
	// concurrently is either in the returned row or finds no room to join.
	room, err := s.store.DeleteRoomByConnection(ctx, connID)
	if errors.Is(err, store.ErrNotFound) {
		return errors.Join(errs...)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("disconnect: delete room: %w", err))
		return errors.Join(errs...)
	}

	if peer, ok := room.PeerOf(connID); ok {
		s.metrics.Inc(metrics.PartnerDisconnected)
		if !s.emitter.Emit(peer, EventPartnerDisconnected, PartnerGone{PeerID: connID}) {
			s.logger.Debug("surviving peer already gone", "conn_id", peer, "room_id", room.ID)
		}
	}
	s.metrics.Inc(metrics.RoomDissolved)
	s.logger.Debug("room dissolved", "conn_id", connID, "room_id", room.ID)
	return errors.Join(errs...)
}
