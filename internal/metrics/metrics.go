package metrics

import "sync"

// Event names counted by the pairing relay.
const (
	ConnectionOpened    = "connection_opened"
	ConnectionClosed    = "connection_closed"
	ConnectionRejected  = "connection_rejected_origin"
	JoinRequested       = "join_requested"
	JoinMatched         = "join_matched"
	JoinWaiting         = "join_waiting"
	JoinBlocked         = "join_blocked"
	JoinFailed          = "join_failed"
	JoinContention      = "join_contention"
	SignalRelayed       = "signal_relayed"
	SignalDropped       = "signal_dropped"
	ClientBlocked       = "client_blocked"
	PartnerDisconnected = "partner_disconnected"
	RoomDissolved       = "room_dissolved"
	ReconcileRun        = "reconcile_run"
	ReconcileSkipped    = "reconcile_skipped"
	ReconcileFailed     = "reconcile_failed"
	BlockExpired        = "block_expired"
	StaleRoomReset      = "stale_room_reset"
	AdminRoomsCleared   = "admin_rooms_cleared"
	AdminUnauthorized   = "admin_unauthorized"
	MessageRateLimited  = "message_rate_limited"
	MessageTooLarge     = "message_too_large"
	MessageMalformed    = "message_malformed"
)

// RelayEvents lists every event the relay emits. The Prometheus handler
// reports each of them, at zero until first seen.
var RelayEvents = []string{
	ConnectionOpened, ConnectionClosed, ConnectionRejected,
	JoinRequested, JoinMatched, JoinWaiting, JoinBlocked, JoinFailed, JoinContention,
	SignalRelayed, SignalDropped,
	ClientBlocked, PartnerDisconnected, RoomDissolved,
	ReconcileRun, ReconcileSkipped, ReconcileFailed, BlockExpired, StaleRoomReset,
	AdminRoomsCleared, AdminUnauthorized,
	MessageRateLimited, MessageTooLarge, MessageMalformed,
}

// Metrics is a minimal, concurrency-safe counter registry.
//
// Counter names are free-form; the constants above cover everything the
// relay itself emits.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc is safe to call on a nil *Metrics.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil || delta == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
