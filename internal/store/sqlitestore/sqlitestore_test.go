package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store/storetest"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "pairing.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pairing.db")

	s, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.CreateRoom(ctx, "room-1", "a", time.UnixMilli(1700000000000)); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}
	defer reopened.Close()

	room, err := reopened.FindRoomByConnection(ctx, "a")
	if err != nil {
		t.Fatalf("FindRoomByConnection: %v", err)
	}
	if room.ID != "room-1" {
		t.Fatalf("room=%q, want room-1", room.ID)
	}
}
