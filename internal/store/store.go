// Package store defines the persisted records of the pairing relay and the
// narrow contract every persistence backend implements.
//
// There is no in-process cache: every state transition made by the pairing
// components is an explicit call into a Store. Slot assignment is expressed
// as a conditional update so concurrent joins cannot overwrite each other.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports that no record matched the lookup.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict reports that a conditional write lost against a concurrent
	// writer (the slot was already claimed, or another open room exists).
	ErrConflict = errors.New("store: conflict")
)

// BlockEvent is one recorded offense against a device.
type BlockEvent struct {
	At     time.Time
	Active bool
}

// Client maps a stable device identifier to its current live connection.
type Client struct {
	DeviceID string
	// ConnectionID is empty while the device is not connected.
	ConnectionID string
	// Blocks is ordered oldest first.
	Blocks []BlockEvent
}

// ActiveBlock returns the newest active block event that is still inside
// window at now. Events that are older than window no longer block even if
// the reconciliation sweep has not removed them yet.
func (c Client) ActiveBlock(now time.Time, window time.Duration) (BlockEvent, bool) {
	var (
		newest BlockEvent
		found  bool
	)
	for _, ev := range c.Blocks {
		if !ev.Active || now.Sub(ev.At) >= window {
			continue
		}
		if !found || ev.At.After(newest.At) {
			newest = ev
			found = true
		}
	}
	return newest, found
}

// Store is the persistence contract consumed by the pairing, signaling and
// reconciliation components. Implementations must be safe for concurrent use.
type Store interface {
	// FindClientByDevice returns ErrNotFound when the device has never joined.
	FindClientByDevice(ctx context.Context, deviceID string) (Client, error)

	// UpsertClientConnection maps deviceID to connID, creating the client if
	// needed. Any other client still mapped to connID is cleared so a live
	// connection belongs to at most one device.
	UpsertClientConnection(ctx context.Context, deviceID, connID string) (Client, error)

	// BlockClientByConnection appends an active block event at the given time
	// to the client currently mapped to connID and clears its connection.
	// Returns ErrNotFound when no client holds connID.
	BlockClientByConnection(ctx context.Context, connID string, at time.Time) (Client, error)

	// ClearConnection clears connID from every client holding it.
	ClearConnection(ctx context.Context, connID string) error

	// ExpireBlockEvents removes active block events recorded at or before
	// olderThan and reports how many were removed.
	ExpireBlockEvents(ctx context.Context, olderThan time.Time) (int, error)

	// FindRoomByConnection returns the room holding connID in either slot.
	FindRoomByConnection(ctx context.Context, connID string) (Room, error)

	// FindOpenRoom returns a room with a free slot that connID does not
	// already occupy.
	FindOpenRoom(ctx context.Context, excludeConnID string) (Room, error)

	// CreateRoom inserts a half-full room with connID in slot A. Returns
	// ErrConflict when another open room already exists.
	CreateRoom(ctx context.Context, id, connID string, at time.Time) (Room, error)

	// ClaimSlot assigns connID to whichever slot of roomID is empty, in one
	// conditional update. Returns ErrConflict when the room is no longer open
	// or connID is already seated in any room.
	ClaimSlot(ctx context.Context, roomID, connID string) (Room, error)

	// DeleteRoomByConnection removes the room holding connID in either slot
	// and returns it as it was at deletion, so the caller sees any occupant
	// that claimed a slot right before. Returns ErrNotFound when connID is
	// not seated.
	DeleteRoomByConnection(ctx context.Context, connID string) (Room, error)

	// DeleteStaleRoom removes roomID only if it is still half-full and was
	// created strictly before createdBefore. Returns ErrNotFound when the
	// room is gone or no longer qualifies.
	DeleteStaleRoom(ctx context.Context, roomID string, createdBefore time.Time) (Room, error)

	// ListStaleRooms returns half-full rooms created strictly before createdBefore.
	ListStaleRooms(ctx context.Context, createdBefore time.Time) ([]Room, error)

	// DeleteAllRooms removes every room and reports how many were removed.
	DeleteAllRooms(ctx context.Context) (int, error)

	Close() error
}
