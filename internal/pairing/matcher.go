package pairing

import (
	"context"
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store"
)

// JoinResult is the reply owed to the joining connection.
type JoinResult struct {
	Blocked bool
	// Message is set when Blocked.
	Message string

	RoomID    string
	PartnerID string
	// IsCaller is true exactly when a partner is present: the newer arrival
	// always sends the offer.
	IsCaller bool
}

// Reply returns the outbound event name and payload for the requester.
func (r JoinResult) Reply() (string, any) {
	if r.Blocked {
		return EventBlock, Blocked{Message: r.Message}
	}
	return EventMatched, Matched{PartnerID: r.PartnerID, IsCaller: r.IsCaller}
}

// Join places connID into a room on behalf of deviceID.
//
// A blocked device gets a Blocked result and no state changes. Otherwise the
// device is mapped to connID and the connection claims the free slot of the
// open room, or opens a new one. If a partner was already waiting, it is
// notified through the Emitter with IsCaller false.
//
// A connection that is already seated gets its current room back.
func (s *Service) Join(ctx context.Context, deviceID, connID string) (JoinResult, error) {
	if deviceID == "" {
		return JoinResult{}, ErrMissingDevice
	}
	if connID == "" {
		return JoinResult{}, errors.New("pairing: connection id is required")
	}
	s.metrics.Inc(metrics.JoinRequested)
	now := s.clock.Now()

	c, err := s.store.FindClientByDevice(ctx, deviceID)
	switch {
	case err == nil:
		if remaining, blocked := s.activeBlock(c, now); blocked {
			s.metrics.Inc(metrics.JoinBlocked)
			s.logger.Info("blocked device tried to join", "device_id", deviceID, "conn_id", connID, "remaining", remaining)
			return JoinResult{Blocked: true, Message: BlockMessage(remaining)}, nil
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return JoinResult{}, fmt.Errorf("join: find client: %w", err)
	}

	if _, err := s.store.UpsertClientConnection(ctx, deviceID, connID); err != nil {
		return JoinResult{}, fmt.Errorf("join: map device: %w", err)
	}

	room, err := s.store.FindRoomByConnection(ctx, connID)
	switch {
	case err == nil:
		s.logger.Debug("join from seated connection", "conn_id", connID, "room_id", room.ID)
		return resultFor(room, connID), nil
	case errors.Is(err, store.ErrNotFound):
	default:
		return JoinResult{}, fmt.Errorf("join: find current room: %w", err)
	}

	room, err = s.seat(ctx, connID)
	if err != nil {
		if errors.Is(err, ErrContention) {
			s.metrics.Inc(metrics.JoinContention)
		}
		return JoinResult{}, err
	}

	res := resultFor(room, connID)
	if res.PartnerID == "" {
		s.metrics.Inc(metrics.JoinWaiting)
		s.logger.Debug("waiting for partner", "conn_id", connID, "room_id", room.ID)
		return res, nil
	}

	s.metrics.Inc(metrics.JoinMatched)
	s.logger.Debug("matched", "conn_id", connID, "partner_id", res.PartnerID, "room_id", room.ID)
	if !s.emitter.Emit(res.PartnerID, EventMatched, Matched{PartnerID: connID, IsCaller: false}) {
		s.logger.Debug("waiting partner already gone", "conn_id", res.PartnerID, "room_id", room.ID)
	}
	return res, nil
}

// seat runs the find/claim loop. Each lost round means another join
// succeeded in between, so the loop always makes global progress.
func (s *Service) seat(ctx context.Context, connID string) (store.Room, error) {
	for attempt := 0; attempt < s.maxClaimAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return store.Room{}, err
		}

		open, err := s.store.FindOpenRoom(ctx, connID)
		if errors.Is(err, store.ErrNotFound) {
			id, err := s.newRoomID()
			if err != nil {
				return store.Room{}, fmt.Errorf("join: room id: %w", err)
			}
			room, err := s.store.CreateRoom(ctx, id, connID, s.clock.Now())
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			if err != nil {
				return store.Room{}, fmt.Errorf("join: create room: %w", err)
			}
			return room, nil
		}
		if err != nil {
			return store.Room{}, fmt.Errorf("join: find open room: %w", err)
		}

		room, err := s.store.ClaimSlot(ctx, open.ID, connID)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return store.Room{}, fmt.Errorf("join: claim slot: %w", err)
		}
		return room, nil
	}
	return store.Room{}, ErrContention
}

func resultFor(room store.Room, connID string) JoinResult {
	peer, ok := room.PeerOf(connID)
	return JoinResult{RoomID: room.ID, PartnerID: peer, IsCaller: ok}
}
