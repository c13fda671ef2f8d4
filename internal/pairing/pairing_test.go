package pairing

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store/sqlitestore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type emitted struct {
	connID string
	event  string
	data   any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
	gone   map[string]bool
}

func (e *recordingEmitter) Emit(connID, event string, data any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone[connID] {
		return false
	}
	e.events = append(e.events, emitted{connID: connID, event: event, data: data})
	return true
}

func (e *recordingEmitter) take() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.events
	e.events = nil
	return out
}

type harness struct {
	svc     *Service
	store   store.Store
	emitter *recordingEmitter
	clock   *fakeClock
	metrics *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := sqlitestore.Open(context.Background(), sqlitestore.Config{Path: filepath.Join(t.TempDir(), "pairing.db")})
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		store:   st,
		emitter: &recordingEmitter{},
		clock:   &fakeClock{now: time.UnixMilli(1700000000000)},
		metrics: metrics.New(),
	}
	svc, err := New(Config{
		Store:   st,
		Emitter: h.emitter,
		Clock:   h.clock,
		Metrics: h.metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.svc = svc
	return h
}

func (h *harness) join(t *testing.T, deviceID, connID string) JoinResult {
	t.Helper()
	res, err := h.svc.Join(context.Background(), deviceID, connID)
	if err != nil {
		t.Fatalf("Join(%s, %s): %v", deviceID, connID, err)
	}
	return res
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Config{Emitter: &recordingEmitter{}}); err == nil {
		t.Fatalf("expected error without store")
	}
	h := newHarness(t)
	if _, err := New(Config{Store: h.store}); err == nil {
		t.Fatalf("expected error without emitter")
	}
}

func TestJoin_FirstJoinerWaitsAsNonCaller(t *testing.T) {
	h := newHarness(t)

	res := h.join(t, "dev-a", "conn-a")
	if res.Blocked || res.PartnerID != "" || res.IsCaller {
		t.Fatalf("result=%+v, want waiting non-caller", res)
	}
	event, data := res.Reply()
	if event != EventMatched {
		t.Fatalf("reply event=%q, want %q", event, EventMatched)
	}
	if m := data.(Matched); m.PartnerID != "" || m.IsCaller {
		t.Fatalf("reply=%+v", m)
	}
	if got := h.emitter.take(); len(got) != 0 {
		t.Fatalf("unexpected pushes: %+v", got)
	}
}

func TestJoin_SecondJoinerIsCallerAndPeerIsNotified(t *testing.T) {
	h := newHarness(t)

	first := h.join(t, "dev-a", "conn-a")
	second := h.join(t, "dev-b", "conn-b")

	if second.PartnerID != "conn-a" || !second.IsCaller {
		t.Fatalf("second=%+v, want partner conn-a as caller", second)
	}
	if second.RoomID != first.RoomID {
		t.Fatalf("room ids differ: %q vs %q", first.RoomID, second.RoomID)
	}

	pushes := h.emitter.take()
	if len(pushes) != 1 {
		t.Fatalf("pushes=%+v, want 1", pushes)
	}
	p := pushes[0]
	if p.connID != "conn-a" || p.event != EventMatched {
		t.Fatalf("push=%+v", p)
	}
	if m := p.data.(Matched); m.PartnerID != "conn-b" || m.IsCaller {
		t.Fatalf("push payload=%+v, want partner conn-b non-caller", m)
	}

	third := h.join(t, "dev-c", "conn-c")
	if third.PartnerID != "" || third.RoomID == first.RoomID {
		t.Fatalf("third=%+v, want a fresh waiting room", third)
	}
}

func TestJoin_SeatedConnectionIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.join(t, "dev-a", "conn-a")
	again := h.join(t, "dev-a", "conn-a")
	if again.PartnerID != "" || again.IsCaller {
		t.Fatalf("rejoin=%+v, want still waiting", again)
	}

	room, err := h.store.FindRoomByConnection(context.Background(), "conn-a")
	if err != nil {
		t.Fatalf("FindRoomByConnection: %v", err)
	}
	if room.Occupancy() != 1 {
		t.Fatalf("occupancy=%d, want 1", room.Occupancy())
	}
}

func TestJoin_MissingDevice(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.Join(context.Background(), "", "conn-a"); !errors.Is(err, ErrMissingDevice) {
		t.Fatalf("err=%v, want ErrMissingDevice", err)
	}
}

func TestBlockUser_BlocksUntilWindowPasses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.join(t, "dev-a", "conn-a")
	h.join(t, "dev-b", "conn-b")
	h.emitter.take()

	res, err := h.svc.BlockUser(ctx, "conn-b")
	if err != nil {
		t.Fatalf("BlockUser: %v", err)
	}
	if !res.Blocked || res.DeviceID != "dev-b" {
		t.Fatalf("block result=%+v", res)
	}
	if !strings.Contains(res.Message, "Please wait 10 minutes") {
		t.Fatalf("message=%q", res.Message)
	}

	c, err := h.store.FindClientByDevice(ctx, "dev-b")
	if err != nil {
		t.Fatalf("FindClientByDevice: %v", err)
	}
	if c.ConnectionID != "" {
		t.Fatalf("connection=%q, want cleared", c.ConnectionID)
	}

	h.clock.Advance(4*time.Minute + 30*time.Second)
	blocked := h.join(t, "dev-b", "conn-b2")
	if !blocked.Blocked {
		t.Fatalf("join while blocked=%+v, want blocked", blocked)
	}
	if !strings.Contains(blocked.Message, "Please wait 6 minutes") {
		t.Fatalf("message=%q, want remaining minutes rounded up", blocked.Message)
	}
	if event, _ := blocked.Reply(); event != EventBlock {
		t.Fatalf("reply event=%q, want %q", event, EventBlock)
	}
	if _, err := h.store.FindRoomByConnection(ctx, "conn-b2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("blocked join touched rooms: err=%v", err)
	}
	if got := h.metrics.Get(metrics.JoinBlocked); got != 1 {
		t.Fatalf("join_blocked=%d, want 1", got)
	}

	h.clock.Advance(6 * time.Minute)
	after := h.join(t, "dev-b", "conn-b3")
	if after.Blocked {
		t.Fatalf("join after window=%+v, want not blocked", after)
	}
}

func TestBlockUser_NewestBlockWins(t *testing.T) {
	h := newHarness(t)

	h.join(t, "dev-a", "conn-a1")
	if _, err := h.svc.BlockUser(context.Background(), "conn-a1"); err != nil {
		t.Fatalf("BlockUser: %v", err)
	}
	h.clock.Advance(11 * time.Minute)
	h.join(t, "dev-a", "conn-a2")

	h.clock.Advance(time.Minute)
	if _, err := h.svc.BlockUser(context.Background(), "conn-a2"); err != nil {
		t.Fatalf("BlockUser: %v", err)
	}

	h.clock.Advance(time.Minute)
	res := h.join(t, "dev-a", "conn-a3")
	if !res.Blocked || !strings.Contains(res.Message, "Please wait 9 minutes") {
		t.Fatalf("result=%+v, want blocked by the newest event", res)
	}
}

func TestBlockUser_UnknownTargetIsNoop(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.BlockUser(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("BlockUser: %v", err)
	}
	if res.Blocked {
		t.Fatalf("result=%+v, want nothing blocked", res)
	}
	if _, err := h.svc.BlockUser(context.Background(), ""); !errors.Is(err, ErrMissingPartner) {
		t.Fatalf("err=%v, want ErrMissingPartner", err)
	}
}

func TestBlockMessage_Rounding(t *testing.T) {
	cases := []struct {
		remaining time.Duration
		want      string
	}{
		{10 * time.Minute, "wait 10 minutes"},
		{90 * time.Second, "wait 2 minutes"},
		{time.Second, "wait 1 minutes"},
		{-time.Second, "wait 1 minutes"},
	}
	for _, tc := range cases {
		if got := BlockMessage(tc.remaining); !strings.Contains(got, tc.want) {
			t.Fatalf("BlockMessage(%v)=%q, want %q", tc.remaining, got, tc.want)
		}
	}
}

func TestDisconnect_NotifiesSurvivorAndDeletesRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.join(t, "dev-a", "conn-a")
	h.join(t, "dev-b", "conn-b")
	h.emitter.take()

	if err := h.svc.Disconnect(ctx, "conn-a"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	pushes := h.emitter.take()
	if len(pushes) != 1 {
		t.Fatalf("pushes=%+v, want 1", pushes)
	}
	if p := pushes[0]; p.connID != "conn-b" || p.event != EventPartnerDisconnected || p.data.(PartnerGone).PeerID != "conn-a" {
		t.Fatalf("push=%+v", p)
	}

	for _, conn := range []string{"conn-a", "conn-b"} {
		if _, err := h.store.FindRoomByConnection(ctx, conn); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("room for %s still exists: err=%v", conn, err)
		}
	}
	c, err := h.store.FindClientByDevice(ctx, "dev-a")
	if err != nil {
		t.Fatalf("FindClientByDevice: %v", err)
	}
	if c.ConnectionID != "" {
		t.Fatalf("connection=%q, want cleared", c.ConnectionID)
	}

	if err := h.svc.Disconnect(ctx, "conn-a"); err != nil {
		t.Fatalf("Disconnect twice: %v", err)
	}
	if got := h.emitter.take(); len(got) != 0 {
		t.Fatalf("second disconnect pushed %+v", got)
	}

	// The survivor starts over with a fresh join.
	res := h.join(t, "dev-b", "conn-b")
	if res.PartnerID != "" {
		t.Fatalf("survivor rejoin=%+v, want waiting", res)
	}
}

func TestJoin_ConcurrentJoinsNeverOverfillRooms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const joiners = 12
	var wg sync.WaitGroup
	errs := make(chan error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := h.svc.Join(ctx, fmt.Sprintf("dev-%d", i), fmt.Sprintf("conn-%d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Join: %v", err)
	}

	rooms := map[string]store.Room{}
	for i := 0; i < joiners; i++ {
		conn := fmt.Sprintf("conn-%d", i)
		room, err := h.store.FindRoomByConnection(ctx, conn)
		if err != nil {
			t.Fatalf("FindRoomByConnection(%s): %v", conn, err)
		}
		rooms[room.ID] = room
	}

	seats := 0
	halfFull := 0
	for _, room := range rooms {
		if room.Occupancy() > 2 {
			t.Fatalf("room %s overfilled: %+v", room.ID, room.Occupants())
		}
		if room.State() == store.RoomHalfFull {
			halfFull++
		}
		seats += room.Occupancy()
	}
	if seats != joiners {
		t.Fatalf("seats=%d, want %d (a connection sits in more than one room or none)", seats, joiners)
	}
	if halfFull > 1 {
		t.Fatalf("half-full rooms=%d, want at most 1", halfFull)
	}
}

type contendedStore struct {
	store.Store
}

func (contendedStore) FindOpenRoom(ctx context.Context, exclude string) (store.Room, error) {
	return store.NewHalfFullRoom("busy", "someone", time.Now()), nil
}

func (contendedStore) ClaimSlot(ctx context.Context, roomID, connID string) (store.Room, error) {
	return store.Room{}, store.ErrConflict
}

func TestJoin_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	svc, err := New(Config{
		Store:            contendedStore{Store: h.store},
		Emitter:          h.emitter,
		Clock:            h.clock,
		Metrics:          h.metrics,
		MaxClaimAttempts: 3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := svc.Join(context.Background(), "dev-a", "conn-a"); !errors.Is(err, ErrContention) {
		t.Fatalf("err=%v, want ErrContention", err)
	}
	if got := h.metrics.Get(metrics.JoinContention); got != 1 {
		t.Fatalf("join_contention=%d, want 1", got)
	}
}

// lateJoinStore seats joiner in roomID right before the disconnect deletes
// the room, the way a concurrent join would.
type lateJoinStore struct {
	store.Store
	t      *testing.T
	roomID string
	joiner string
}

func (s lateJoinStore) DeleteRoomByConnection(ctx context.Context, connID string) (store.Room, error) {
	if _, err := s.Store.ClaimSlot(ctx, s.roomID, s.joiner); err != nil {
		s.t.Fatalf("ClaimSlot(%s, %s): %v", s.roomID, s.joiner, err)
	}
	return s.Store.DeleteRoomByConnection(ctx, connID)
}

func TestDisconnect_NotifiesPeerThatJustClaimedTheSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	waiting := h.join(t, "dev-a", "conn-a")
	if waiting.PartnerID != "" {
		t.Fatalf("first join matched %q, want waiting", waiting.PartnerID)
	}
	h.emitter.take()

	svc, err := New(Config{
		Store:   lateJoinStore{Store: h.store, t: t, roomID: waiting.RoomID, joiner: "conn-b"},
		Emitter: h.emitter,
		Clock:   h.clock,
		Metrics: h.metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.Disconnect(ctx, "conn-a"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	pushes := h.emitter.take()
	if len(pushes) != 1 || pushes[0].connID != "conn-b" || pushes[0].event != EventPartnerDisconnected {
		t.Fatalf("pushes=%+v, want partner-disconnected to conn-b", pushes)
	}
	if _, err := h.store.FindRoomByConnection(ctx, "conn-b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("room for conn-b: err=%v, want ErrNotFound", err)
	}
}

func TestDisconnect_Twice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.join(t, "dev-a", "conn-a")
	h.join(t, "dev-b", "conn-b")
	h.emitter.take()

	if err := h.svc.Disconnect(ctx, "conn-a"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := h.svc.Disconnect(ctx, "conn-a"); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if got := len(h.emitter.take()); got != 1 {
		t.Fatalf("pushes=%d, want exactly one partner-disconnected", got)
	}
}
