// Package storetest holds the behavioral checks every store.Store backend
// must pass. Backends call Run from their own tests with a factory that
// returns a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store"
)

// Factory returns an empty store. The store is closed by the suite.
type Factory func(t *testing.T) store.Store

// base is millisecond aligned so every backend round-trips it exactly.
var base = time.UnixMilli(1700000000000).UTC()

func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"ClientUpsertAndLookup", testClientUpsertAndLookup},
		{"UpsertMovesConnection", testUpsertMovesConnection},
		{"BlockByConnection", testBlockByConnection},
		{"BlockUnknownConnection", testBlockUnknownConnection},
		{"ExpireBlockEvents", testExpireBlockEvents},
		{"ClearConnection", testClearConnection},
		{"CreateAndClaim", testCreateAndClaim},
		{"SingleOpenRoom", testSingleOpenRoom},
		{"ClaimRejectsSeatedConnection", testClaimRejectsSeatedConnection},
		{"ClaimFullRoomConflicts", testClaimFullRoomConflicts},
		{"FindOpenRoomExcludesSelf", testFindOpenRoomExcludesSelf},
		{"ListStaleRooms", testListStaleRooms},
		{"DeleteRooms", testDeleteRooms},
		{"DeleteStaleRoom", testDeleteStaleRoom},
		{"ConcurrentClaims", testConcurrentClaims},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func testClientUpsertAndLookup(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.FindClientByDevice(ctx, "dev-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindClientByDevice on empty store: err=%v, want ErrNotFound", err)
	}

	c, err := s.UpsertClientConnection(ctx, "dev-1", "conn-1")
	if err != nil {
		t.Fatalf("UpsertClientConnection: %v", err)
	}
	if c.DeviceID != "dev-1" || c.ConnectionID != "conn-1" {
		t.Fatalf("client=%+v", c)
	}

	if _, err := s.UpsertClientConnection(ctx, "dev-1", "conn-2"); err != nil {
		t.Fatalf("UpsertClientConnection (reconnect): %v", err)
	}
	got, err := s.FindClientByDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("FindClientByDevice: %v", err)
	}
	if got.ConnectionID != "conn-2" {
		t.Fatalf("connection=%q, want conn-2", got.ConnectionID)
	}
}

func testUpsertMovesConnection(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustUpsert(t, s, "dev-1", "conn-1")
	mustUpsert(t, s, "dev-2", "conn-1")

	first, err := s.FindClientByDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("FindClientByDevice: %v", err)
	}
	if first.ConnectionID != "" {
		t.Fatalf("dev-1 still holds %q after dev-2 took the connection", first.ConnectionID)
	}
}

func testBlockByConnection(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustUpsert(t, s, "dev-1", "conn-1")

	c, err := s.BlockClientByConnection(ctx, "conn-1", base)
	if err != nil {
		t.Fatalf("BlockClientByConnection: %v", err)
	}
	if c.DeviceID != "dev-1" || c.ConnectionID != "" {
		t.Fatalf("client=%+v, want dev-1 with cleared connection", c)
	}
	if len(c.Blocks) != 1 || !c.Blocks[0].Active || !c.Blocks[0].At.Equal(base) {
		t.Fatalf("blocks=%+v", c.Blocks)
	}

	mustUpsert(t, s, "dev-1", "conn-2")
	if _, err := s.BlockClientByConnection(ctx, "conn-2", base.Add(time.Minute)); err != nil {
		t.Fatalf("BlockClientByConnection (second): %v", err)
	}
	got, err := s.FindClientByDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("FindClientByDevice: %v", err)
	}
	if len(got.Blocks) != 2 {
		t.Fatalf("blocks=%+v, want 2 events", got.Blocks)
	}
	if !got.Blocks[0].At.Before(got.Blocks[1].At) {
		t.Fatalf("blocks not ordered oldest first: %+v", got.Blocks)
	}
}

func testBlockUnknownConnection(t *testing.T, s store.Store) {
	if _, err := s.BlockClientByConnection(context.Background(), "ghost", base); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func testExpireBlockEvents(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustUpsert(t, s, "dev-1", "conn-1")
	if _, err := s.BlockClientByConnection(ctx, "conn-1", base); err != nil {
		t.Fatalf("block: %v", err)
	}
	mustUpsert(t, s, "dev-1", "conn-2")
	if _, err := s.BlockClientByConnection(ctx, "conn-2", base.Add(8*time.Minute)); err != nil {
		t.Fatalf("block: %v", err)
	}

	n, err := s.ExpireBlockEvents(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("ExpireBlockEvents: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired=%d, want 1", n)
	}

	got, err := s.FindClientByDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("FindClientByDevice: %v", err)
	}
	if len(got.Blocks) != 1 || !got.Blocks[0].At.Equal(base.Add(8*time.Minute)) {
		t.Fatalf("blocks=%+v, want only the recent event", got.Blocks)
	}
}

func testClearConnection(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustUpsert(t, s, "dev-1", "conn-1")

	if err := s.ClearConnection(ctx, "conn-1"); err != nil {
		t.Fatalf("ClearConnection: %v", err)
	}
	if err := s.ClearConnection(ctx, "never-seen"); err != nil {
		t.Fatalf("ClearConnection unknown: %v", err)
	}
	got, err := s.FindClientByDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("FindClientByDevice: %v", err)
	}
	if got.ConnectionID != "" {
		t.Fatalf("connection=%q, want cleared", got.ConnectionID)
	}
}

func testCreateAndClaim(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.FindOpenRoom(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindOpenRoom on empty store: err=%v, want ErrNotFound", err)
	}

	room, err := s.CreateRoom(ctx, "room-1", "a", base)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.State() != store.RoomHalfFull {
		t.Fatalf("state=%v, want half_full", room.State())
	}

	open, err := s.FindOpenRoom(ctx, "b")
	if err != nil {
		t.Fatalf("FindOpenRoom: %v", err)
	}
	if open.ID != "room-1" {
		t.Fatalf("open room=%q, want room-1", open.ID)
	}

	full, err := s.ClaimSlot(ctx, "room-1", "b")
	if err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}
	if full.State() != store.RoomFull {
		t.Fatalf("state=%v, want full", full.State())
	}
	if a, b := full.Slots(); a != "a" || b != "b" {
		t.Fatalf("slots=(%q,%q), want (a,b)", a, b)
	}
	if !full.CreatedAt.Equal(base) {
		t.Fatalf("created_at=%v, want %v", full.CreatedAt, base)
	}

	for _, conn := range []string{"a", "b"} {
		found, err := s.FindRoomByConnection(ctx, conn)
		if err != nil {
			t.Fatalf("FindRoomByConnection(%s): %v", conn, err)
		}
		if found.ID != "room-1" {
			t.Fatalf("FindRoomByConnection(%s)=%q", conn, found.ID)
		}
	}
	if _, err := s.FindOpenRoom(ctx, "c"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindOpenRoom after fill: err=%v, want ErrNotFound", err)
	}
}

func testSingleOpenRoom(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.CreateRoom(ctx, "room-1", "a", base); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := s.CreateRoom(ctx, "room-2", "b", base); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second open room: err=%v, want ErrConflict", err)
	}

	if _, err := s.ClaimSlot(ctx, "room-1", "b"); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}
	if _, err := s.CreateRoom(ctx, "room-2", "c", base); err != nil {
		t.Fatalf("CreateRoom after fill: %v", err)
	}
}

func testClaimRejectsSeatedConnection(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.CreateRoom(ctx, "room-1", "a", base); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := s.ClaimSlot(ctx, "room-1", "a"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("ClaimSlot by occupant: err=%v, want ErrConflict", err)
	}
	room, err := s.FindRoomByConnection(ctx, "a")
	if err != nil {
		t.Fatalf("FindRoomByConnection: %v", err)
	}
	if room.Occupancy() != 1 {
		t.Fatalf("occupancy=%d, want 1", room.Occupancy())
	}
}

func testClaimFullRoomConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.CreateRoom(ctx, "room-1", "a", base); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := s.ClaimSlot(ctx, "room-1", "b"); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}
	if _, err := s.ClaimSlot(ctx, "room-1", "c"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("ClaimSlot on full room: err=%v, want ErrConflict", err)
	}
	if _, err := s.ClaimSlot(ctx, "missing", "c"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("ClaimSlot on missing room: err=%v, want ErrConflict", err)
	}
}

func testFindOpenRoomExcludesSelf(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.CreateRoom(ctx, "room-1", "a", base); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := s.FindOpenRoom(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindOpenRoom excluding occupant: err=%v, want ErrNotFound", err)
	}
}

func testListStaleRooms(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.CreateRoom(ctx, "full", "a", base); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := s.ClaimSlot(ctx, "full", "b"); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}
	if _, err := s.CreateRoom(ctx, "half", "c", base); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	rooms, err := s.ListStaleRooms(ctx, base)
	if err != nil {
		t.Fatalf("ListStaleRooms: %v", err)
	}
	if len(rooms) != 0 {
		t.Fatalf("rooms=%+v, want none created strictly before base", rooms)
	}

	rooms, err = s.ListStaleRooms(ctx, base.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("ListStaleRooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "half" {
		t.Fatalf("rooms=%+v, want only the half-full room", rooms)
	}
	if occ := rooms[0].Occupants(); len(occ) != 1 || occ[0] != "c" {
		t.Fatalf("occupants=%v, want [c]", occ)
	}
}

func testDeleteStaleRoom(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.CreateRoom(ctx, "half", "a", base); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := s.DeleteStaleRoom(ctx, "half", base); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("DeleteStaleRoom at creation time: err=%v, want ErrNotFound", err)
	}

	if _, err := s.ClaimSlot(ctx, "half", "b"); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}
	if _, err := s.DeleteStaleRoom(ctx, "half", base.Add(time.Minute)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("DeleteStaleRoom on full room: err=%v, want ErrNotFound", err)
	}
	if _, err := s.FindRoomByConnection(ctx, "b"); err != nil {
		t.Fatalf("full room was deleted: %v", err)
	}

	if _, err := s.CreateRoom(ctx, "lonely", "c", base); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	deleted, err := s.DeleteStaleRoom(ctx, "lonely", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteStaleRoom: %v", err)
	}
	if occ := deleted.Occupants(); deleted.ID != "lonely" || len(occ) != 1 || occ[0] != "c" {
		t.Fatalf("deleted=%s occupants=%v, want lonely [c]", deleted.ID, occ)
	}
	if _, err := s.DeleteStaleRoom(ctx, "lonely", base.Add(time.Minute)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("DeleteStaleRoom twice: err=%v, want ErrNotFound", err)
	}
}

func testDeleteRooms(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.CreateRoom(ctx, "room-1", "a", base); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := s.ClaimSlot(ctx, "room-1", "b"); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}
	deleted, err := s.DeleteRoomByConnection(ctx, "b")
	if err != nil {
		t.Fatalf("DeleteRoomByConnection: %v", err)
	}
	if deleted.ID != "room-1" || deleted.Occupancy() != 2 {
		t.Fatalf("deleted=%s occupancy=%d, want room-1 full", deleted.ID, deleted.Occupancy())
	}
	if peer, ok := deleted.PeerOf("b"); !ok || peer != "a" {
		t.Fatalf("PeerOf(b)=%q,%v, want a", peer, ok)
	}
	if _, err := s.DeleteRoomByConnection(ctx, "b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("DeleteRoomByConnection twice: err=%v, want ErrNotFound", err)
	}
	if _, err := s.DeleteRoomByConnection(ctx, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("DeleteRoomByConnection(\"\"): err=%v, want ErrNotFound", err)
	}
	if _, err := s.FindRoomByConnection(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindRoomByConnection after delete: err=%v, want ErrNotFound", err)
	}

	if _, err := s.CreateRoom(ctx, "room-2", "a", base); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := s.ClaimSlot(ctx, "room-2", "b"); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}
	if _, err := s.CreateRoom(ctx, "room-3", "c", base); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	n, err := s.DeleteAllRooms(ctx)
	if err != nil {
		t.Fatalf("DeleteAllRooms: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted=%d, want 2", n)
	}
	n, err = s.DeleteAllRooms(ctx)
	if err != nil {
		t.Fatalf("DeleteAllRooms on empty: %v", err)
	}
	if n != 0 {
		t.Fatalf("deleted=%d, want 0", n)
	}
}

// testConcurrentClaims races many distinct connections for the single
// free slot of one room. Exactly one may win.
func testConcurrentClaims(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.CreateRoom(ctx, "room-1", "owner", base); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	const contenders = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ClaimSlot(ctx, "room-1", fmt.Sprintf("conn-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrConflict):
			default:
				errs = append(errs, err)
			}
		}(i)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if wins != 1 {
		t.Fatalf("wins=%d, want exactly 1", wins)
	}
	room, err := s.FindRoomByConnection(ctx, "owner")
	if err != nil {
		t.Fatalf("FindRoomByConnection: %v", err)
	}
	if room.Occupancy() != 2 {
		t.Fatalf("occupancy=%d, want 2", room.Occupancy())
	}
}

func mustUpsert(t *testing.T, s store.Store, deviceID, connID string) {
	t.Helper()
	if _, err := s.UpsertClientConnection(context.Background(), deviceID, connID); err != nil {
		t.Fatalf("UpsertClientConnection(%s, %s): %v", deviceID, connID, err)
	}
}
