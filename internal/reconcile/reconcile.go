// Package reconcile runs the periodic sweep that expires old block events
// and resets rooms whose second peer never arrived.
package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/pairing"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store"
)

const (
	DefaultInterval      = time.Minute
	DefaultStaleRoomAge  = 2 * time.Minute
	DefaultBlockDuration = pairing.DefaultBlockDuration
)

type Config struct {
	Store   store.Store
	Emitter pairing.Emitter

	Interval      time.Duration
	StaleRoomAge  time.Duration
	BlockDuration time.Duration

	Clock   pairing.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Result summarizes one sweep.
type Result struct {
	ExpiredBlocks int
	ResetRooms    int
}

// Job is single-flight: at most one sweep runs at a time, whether started
// by the ticker or by RunOnce.
type Job struct {
	cfg     Config
	running atomic.Bool
}

func New(cfg Config) (*Job, error) {
	if cfg.Store == nil {
		return nil, errors.New("reconcile: Store is required")
	}
	if cfg.Emitter == nil {
		return nil, errors.New("reconcile: Emitter is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StaleRoomAge <= 0 {
		cfg.StaleRoomAge = DefaultStaleRoomAge
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = DefaultBlockDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Job{cfg: cfg}, nil
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Run sweeps on every tick until ctx is done, then waits for an in-flight
// sweep to finish. A tick that fires while the previous sweep is still
// running is skipped.
func (j *Job) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	j.cfg.Logger.Info("reconciliation job started", "interval", j.cfg.Interval.String())
	for {
		select {
		case <-ctx.Done():
			j.cfg.Logger.Info("reconciliation job stopped")
			return
		case <-ticker.C:
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				j.tick(ctx)
			}()
		}
	}
}

func (j *Job) tick(ctx context.Context) {
	if _, ran := j.RunOnce(ctx); !ran {
		j.cfg.Metrics.Inc(metrics.ReconcileSkipped)
		j.cfg.Logger.Debug("reconciliation tick skipped, previous sweep still running")
	}
}

// RunOnce performs one sweep and reports false without doing anything if a
// sweep is already in progress. Step failures are logged and counted, never
// returned: the next sweep simply tries again.
func (j *Job) RunOnce(ctx context.Context) (Result, bool) {
	if !j.running.CompareAndSwap(false, true) {
		return Result{}, false
	}
	defer j.running.Store(false)

	j.cfg.Metrics.Inc(metrics.ReconcileRun)
	now := j.cfg.Clock.Now()
	var res Result

	expired, err := j.cfg.Store.ExpireBlockEvents(ctx, now.Add(-j.cfg.BlockDuration))
	if err != nil {
		j.cfg.Metrics.Inc(metrics.ReconcileFailed)
		j.cfg.Logger.Error("expire block events failed", "err", err)
	} else {
		res.ExpiredBlocks = expired
		j.cfg.Metrics.Add(metrics.BlockExpired, uint64(expired))
	}

	staleBefore := now.Add(-j.cfg.StaleRoomAge)
	rooms, err := j.cfg.Store.ListStaleRooms(ctx, staleBefore)
	if err != nil {
		j.cfg.Metrics.Inc(metrics.ReconcileFailed)
		j.cfg.Logger.Error("list stale rooms failed", "err", err)
	}
	for _, listed := range rooms {
		// The listing is only a candidate set. A room that filled up or was
		// dissolved since then no longer matches and is left alone.
		room, err := j.cfg.Store.DeleteStaleRoom(ctx, listed.ID, staleBefore)
		if errors.Is(err, store.ErrNotFound) {
			j.cfg.Logger.Debug("stale room changed before reset", "room_id", listed.ID)
			continue
		}
		if err != nil {
			j.cfg.Metrics.Inc(metrics.ReconcileFailed)
			j.cfg.Logger.Error("delete stale room failed", "room_id", listed.ID, "err", err)
			continue
		}
		for _, occupant := range room.Occupants() {
			j.cfg.Emitter.Emit(occupant, pairing.EventResetPage, pairing.ResetPage{})
		}
		res.ResetRooms++
		j.cfg.Metrics.Inc(metrics.StaleRoomReset)
	}

	j.cfg.Logger.Debug("reconciliation sweep finished",
		"expired_blocks", res.ExpiredBlocks,
		"reset_rooms", res.ResetRooms,
	)
	return res, true
}
