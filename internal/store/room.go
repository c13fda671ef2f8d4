package store

import (
	"fmt"
	"time"
)

// RoomState is the occupancy state of a Room.
type RoomState int

const (
	RoomEmpty RoomState = iota
	RoomHalfFull
	RoomFull
)

func (s RoomState) String() string {
	switch s {
	case RoomEmpty:
		return "empty"
	case RoomHalfFull:
		return "half_full"
	case RoomFull:
		return "full"
	default:
		return fmt.Sprintf("RoomState(%d)", int(s))
	}
}

// Room is the pairing unit. Its slots are only settable through the
// constructors below, and occupancy is derived from the slots rather than
// stored alongside them, so a room with occupancy 2 and an empty slot
// cannot be built.
type Room struct {
	ID        string
	CreatedAt time.Time

	slotA string
	slotB string
}

// NewHalfFullRoom returns a room whose only occupant sits in slot A.
func NewHalfFullRoom(id, occupant string, createdAt time.Time) Room {
	return Room{ID: id, CreatedAt: createdAt, slotA: occupant}
}

// NewFullRoom returns a room holding first in slot A and second in slot B.
func NewFullRoom(id, first, second string, createdAt time.Time) Room {
	return Room{ID: id, CreatedAt: createdAt, slotA: first, slotB: second}
}

// RoomFromRecord rebuilds a Room from its flat persisted fields and rejects
// records whose counter disagrees with the slots.
func RoomFromRecord(id, slotA, slotB string, occupancy int, createdAt time.Time) (Room, error) {
	if slotA != "" && slotA == slotB {
		return Room{}, fmt.Errorf("room %s: connection %s fills both slots", id, slotA)
	}
	r := Room{ID: id, CreatedAt: createdAt, slotA: slotA, slotB: slotB}
	if r.Occupancy() != occupancy {
		return Room{}, fmt.Errorf("room %s: occupancy %d does not match %d filled slots", id, occupancy, r.Occupancy())
	}
	return r, nil
}

// Slots returns the flat slot fields for persistence.
func (r Room) Slots() (slotA, slotB string) {
	return r.slotA, r.slotB
}

func (r Room) Occupancy() int {
	n := 0
	if r.slotA != "" {
		n++
	}
	if r.slotB != "" {
		n++
	}
	return n
}

func (r Room) State() RoomState {
	return RoomState(r.Occupancy())
}

// Occupants returns the non-empty slots, slot A first.
func (r Room) Occupants() []string {
	out := make([]string, 0, 2)
	if r.slotA != "" {
		out = append(out, r.slotA)
	}
	if r.slotB != "" {
		out = append(out, r.slotB)
	}
	return out
}

func (r Room) Contains(connID string) bool {
	return connID != "" && (r.slotA == connID || r.slotB == connID)
}

// PeerOf returns the occupant other than connID, if there is one.
func (r Room) PeerOf(connID string) (string, bool) {
	for _, id := range r.Occupants() {
		if id != connID {
			return id, true
		}
	}
	return "", false
}
