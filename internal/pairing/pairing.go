// Package pairing implements the matchmaking state machine: placing a
// joining connection into a room, enforcing temporary blocks, and dissolving
// a room when either side leaves.
//
// Service holds no authoritative state of its own. Every transition is a
// call into a store.Store, and outbound notifications to other connections go
// through an Emitter supplied by the transport.
package pairing

import (
	"errors"
	"io"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store"
)

const (
	DefaultBlockDuration    = 10 * time.Minute
	DefaultMaxClaimAttempts = 16

	roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	roomIDLength   = 12
)

var (
	ErrMissingDevice  = errors.New("pairing: deviceId is required")
	ErrMissingPartner = errors.New("pairing: partnerId is required")

	// ErrContention is returned when every slot claim attempt lost to a
	// concurrent join.
	ErrContention = errors.New("pairing: room assignment contention")
)

// Emitter delivers an outbound event to a live connection. It reports false
// when the connection is no longer known.
type Emitter interface {
	Emit(connID, event string, data any) bool
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Config struct {
	Store   store.Store
	Emitter Emitter

	// BlockDuration is how long a single block event keeps a device from
	// being matched. Defaults to DefaultBlockDuration.
	BlockDuration time.Duration

	// MaxClaimAttempts bounds the find/claim retry loop in Join.
	MaxClaimAttempts int

	Clock   Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// NewRoomID overrides room id generation in tests.
	NewRoomID func() (string, error)
}

type Service struct {
	store   store.Store
	emitter Emitter
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	blockDuration    time.Duration
	maxClaimAttempts int
	newRoomID        func() (string, error)
}

func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("pairing: Store is required")
	}
	if cfg.Emitter == nil {
		return nil, errors.New("pairing: Emitter is required")
	}
	s := &Service{
		store:            cfg.Store,
		emitter:          cfg.Emitter,
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		blockDuration:    cfg.BlockDuration,
		maxClaimAttempts: cfg.MaxClaimAttempts,
		newRoomID:        cfg.NewRoomID,
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.blockDuration <= 0 {
		s.blockDuration = DefaultBlockDuration
	}
	if s.maxClaimAttempts <= 0 {
		s.maxClaimAttempts = DefaultMaxClaimAttempts
	}
	if s.newRoomID == nil {
		s.newRoomID = func() (string, error) {
			return gonanoid.Generate(roomIDAlphabet, roomIDLength)
		}
	}
	return s, nil
}

func (s *Service) BlockDuration() time.Duration { return s.blockDuration }
