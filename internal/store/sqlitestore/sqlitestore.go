// Package sqlitestore implements store.Store on an embedded SQLite database
// through a pool of zombiezen connections. It is the default backend and the
// one used by tests, since it needs no external service.
package sqlitestore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store"
)

// rooms_single_open keeps at most one room with a free slot. Together with
// the conditional UPDATE in ClaimSlot it is what prevents two concurrent
// joiners from each opening their own half-full room.
const schema = `
CREATE TABLE IF NOT EXISTS clients (
	device_id     TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS clients_connection ON clients (connection_id) WHERE connection_id <> '';

CREATE TABLE IF NOT EXISTS block_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id  TEXT NOT NULL,
	blocked_at INTEGER NOT NULL,
	active     INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS block_events_device ON block_events (device_id);

CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	slot_a     TEXT NOT NULL DEFAULT '',
	slot_b     TEXT NOT NULL DEFAULT '',
	occupancy  INTEGER NOT NULL CHECK (occupancy BETWEEN 0 AND 2),
	created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS rooms_single_open ON rooms (occupancy < 2) WHERE occupancy < 2;
CREATE INDEX IF NOT EXISTS rooms_slot_a ON rooms (slot_a) WHERE slot_a <> '';
CREATE INDEX IF NOT EXISTS rooms_slot_b ON rooms (slot_b) WHERE slot_b <> '';
`

const roomColumns = "id, slot_a, slot_b, occupancy, created_at"

// Config holds the parameters for opening the store.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize defaults to max(runtime.NumCPU(), 4).
	PoolSize int

	Logger *slog.Logger
}

type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

var _ store.Store = (*Store)(nil)

// Open creates the pool, applies pragmas on every connection, and makes sure
// the schema exists before returning.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitestore: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening %s: %w", cfg.Path, err)
	}
	s := &Store{pool: pool, logger: logger, path: cfg.Path}

	conn, err := pool.Take(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("sqlitestore: take: %w", err)
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	pool.Put(conn)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("sqlitestore: applying schema: %w", err)
	}

	logger.Info("sqlite store opened", "path", cfg.Path, "pool_size", poolSize)
	return s, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("sqlite store close error", "path", s.path, "err", err)
		return fmt.Errorf("sqlitestore: closing %s: %w", s.path, err)
	}
	s.logger.Info("sqlite store closed", "path", s.path)
	return nil
}

// withConn borrows a connection for the duration of fn.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

func (s *Store) FindClientByDevice(ctx context.Context, deviceID string) (store.Client, error) {
	var c store.Client
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		var err error
		c, err = loadClient(conn, "device_id = ?", deviceID)
		return err
	})
	return c, err
}

func (s *Store) UpsertClientConnection(ctx context.Context, deviceID, connID string) (store.Client, error) {
	var c store.Client
	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endTx, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("sqlitestore: begin: %w", err)
		}
		defer endTx(&err)

		if err := sqlitex.Execute(conn,
			"UPDATE clients SET connection_id = '' WHERE connection_id = ? AND device_id <> ?",
			&sqlitex.ExecOptions{Args: []any{connID, deviceID}},
		); err != nil {
			return fmt.Errorf("sqlitestore: releasing connection: %w", err)
		}
		if err := sqlitex.Execute(conn,
			`INSERT INTO clients (device_id, connection_id) VALUES (?, ?)
			 ON CONFLICT (device_id) DO UPDATE SET connection_id = excluded.connection_id`,
			&sqlitex.ExecOptions{Args: []any{deviceID, connID}},
		); err != nil {
			return fmt.Errorf("sqlitestore: upserting client: %w", err)
		}
		c, err = loadClient(conn, "device_id = ?", deviceID)
		return err
	})
	return c, err
}

func (s *Store) BlockClientByConnection(ctx context.Context, connID string, at time.Time) (store.Client, error) {
	if connID == "" {
		return store.Client{}, store.ErrNotFound
	}
	var c store.Client
	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endTx, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("sqlitestore: begin: %w", err)
		}
		defer endTx(&err)

		target, err := loadClient(conn, "connection_id = ?", connID)
		if err != nil {
			return err
		}
		if err := sqlitex.Execute(conn,
			"INSERT INTO block_events (device_id, blocked_at, active) VALUES (?, ?, 1)",
			&sqlitex.ExecOptions{Args: []any{target.DeviceID, at.UnixMilli()}},
		); err != nil {
			return fmt.Errorf("sqlitestore: recording block: %w", err)
		}
		if err := sqlitex.Execute(conn,
			"UPDATE clients SET connection_id = '' WHERE device_id = ?",
			&sqlitex.ExecOptions{Args: []any{target.DeviceID}},
		); err != nil {
			return fmt.Errorf("sqlitestore: clearing connection: %w", err)
		}
		c, err = loadClient(conn, "device_id = ?", target.DeviceID)
		return err
	})
	return c, err
}

func (s *Store) ClearConnection(ctx context.Context, connID string) error {
	if connID == "" {
		return nil
	}
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn,
			"UPDATE clients SET connection_id = '' WHERE connection_id = ?",
			&sqlitex.ExecOptions{Args: []any{connID}},
		); err != nil {
			return fmt.Errorf("sqlitestore: clearing connection: %w", err)
		}
		return nil
	})
}

func (s *Store) ExpireBlockEvents(ctx context.Context, olderThan time.Time) (int, error) {
	var n int
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn,
			"DELETE FROM block_events WHERE active = 1 AND blocked_at <= ?",
			&sqlitex.ExecOptions{Args: []any{olderThan.UnixMilli()}},
		); err != nil {
			return fmt.Errorf("sqlitestore: expiring block events: %w", err)
		}
		n = conn.Changes()
		return nil
	})
	return n, err
}

func (s *Store) FindRoomByConnection(ctx context.Context, connID string) (store.Room, error) {
	if connID == "" {
		return store.Room{}, store.ErrNotFound
	}
	return s.queryOneRoom(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE slot_a = ? OR slot_b = ? LIMIT 1",
		connID, connID)
}

func (s *Store) FindOpenRoom(ctx context.Context, excludeConnID string) (store.Room, error) {
	return s.queryOneRoom(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE occupancy < 2 AND (?1 = '' OR ?1 NOT IN (slot_a, slot_b)) ORDER BY created_at LIMIT 1",
		excludeConnID)
}

func (s *Store) CreateRoom(ctx context.Context, id, connID string, at time.Time) (store.Room, error) {
	var inserted bool
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn,
			"INSERT OR IGNORE INTO rooms (id, slot_a, slot_b, occupancy, created_at) VALUES (?, ?, '', 1, ?)",
			&sqlitex.ExecOptions{Args: []any{id, connID, at.UnixMilli()}},
		); err != nil {
			return fmt.Errorf("sqlitestore: creating room: %w", err)
		}
		inserted = conn.Changes() == 1
		return nil
	})
	if err != nil {
		return store.Room{}, err
	}
	if !inserted {
		return store.Room{}, store.ErrConflict
	}
	return store.NewHalfFullRoom(id, connID, time.UnixMilli(at.UnixMilli()).UTC()), nil
}

// ClaimSlot fills whichever slot is empty in a single statement. The WHERE
// clause re-checks every precondition the caller observed, so a concurrent
// claim that landed first turns this one into a zero-row update.
func (s *Store) ClaimSlot(ctx context.Context, roomID, connID string) (store.Room, error) {
	const query = `
UPDATE rooms SET
	slot_a    = CASE WHEN slot_a = '' THEN ?2 ELSE slot_a END,
	slot_b    = CASE WHEN slot_a <> '' AND slot_b = '' THEN ?2 ELSE slot_b END,
	occupancy = occupancy + 1
WHERE id = ?1
	AND occupancy < 2
	AND (slot_a = '' OR slot_b = '')
	AND NOT EXISTS (SELECT 1 FROM rooms r WHERE r.slot_a = ?2 OR r.slot_b = ?2)
RETURNING ` + roomColumns

	var (
		room  store.Room
		found bool
	)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: []any{roomID, connID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				r, err := scanRoom(stmt)
				if err != nil {
					return err
				}
				room, found = r, true
				return nil
			},
		})
	})
	if err != nil {
		return store.Room{}, fmt.Errorf("sqlitestore: claiming slot: %w", err)
	}
	if !found {
		return store.Room{}, store.ErrConflict
	}
	return room, nil
}

func (s *Store) DeleteRoomByConnection(ctx context.Context, connID string) (store.Room, error) {
	if connID == "" {
		return store.Room{}, store.ErrNotFound
	}
	return s.queryOneRoom(ctx,
		"DELETE FROM rooms WHERE slot_a = ?1 OR slot_b = ?1 RETURNING "+roomColumns,
		connID)
}

func (s *Store) DeleteStaleRoom(ctx context.Context, roomID string, createdBefore time.Time) (store.Room, error) {
	return s.queryOneRoom(ctx,
		"DELETE FROM rooms WHERE id = ? AND occupancy = 1 AND created_at < ? RETURNING "+roomColumns,
		roomID, createdBefore.UnixMilli())
}

func (s *Store) ListStaleRooms(ctx context.Context, createdBefore time.Time) ([]store.Room, error) {
	var rooms []store.Room
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT "+roomColumns+" FROM rooms WHERE occupancy = 1 AND created_at < ? ORDER BY created_at",
			&sqlitex.ExecOptions{
				Args: []any{createdBefore.UnixMilli()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					r, err := scanRoom(stmt)
					if err != nil {
						return err
					}
					rooms = append(rooms, r)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: listing stale rooms: %w", err)
	}
	return rooms, nil
}

func (s *Store) DeleteAllRooms(ctx context.Context) (int, error) {
	var n int
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM rooms", nil); err != nil {
			return fmt.Errorf("sqlitestore: deleting rooms: %w", err)
		}
		n = conn.Changes()
		return nil
	})
	return n, err
}

func (s *Store) queryOneRoom(ctx context.Context, query string, args ...any) (store.Room, error) {
	var (
		room  store.Room
		found bool
	)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				r, err := scanRoom(stmt)
				if err != nil {
					return err
				}
				room, found = r, true
				return nil
			},
		})
	})
	if err != nil {
		return store.Room{}, fmt.Errorf("sqlitestore: querying room: %w", err)
	}
	if !found {
		return store.Room{}, store.ErrNotFound
	}
	return room, nil
}

// scanRoom reads columns in roomColumns order.
func scanRoom(stmt *sqlite.Stmt) (store.Room, error) {
	return store.RoomFromRecord(
		stmt.ColumnText(0),
		stmt.ColumnText(1),
		stmt.ColumnText(2),
		stmt.ColumnInt(3),
		time.UnixMilli(stmt.ColumnInt64(4)).UTC(),
	)
}

// loadClient reads a single client and its block events. where is a fixed
// predicate on the clients table with one placeholder.
func loadClient(conn *sqlite.Conn, where string, arg string) (store.Client, error) {
	var (
		c     store.Client
		found bool
	)
	err := sqlitex.Execute(conn,
		"SELECT device_id, connection_id FROM clients WHERE "+where+" ORDER BY device_id LIMIT 1",
		&sqlitex.ExecOptions{
			Args: []any{arg},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				c.DeviceID = stmt.ColumnText(0)
				c.ConnectionID = stmt.ColumnText(1)
				found = true
				return nil
			},
		})
	if err != nil {
		return store.Client{}, fmt.Errorf("sqlitestore: loading client: %w", err)
	}
	if !found {
		return store.Client{}, store.ErrNotFound
	}

	err = sqlitex.Execute(conn,
		"SELECT blocked_at, active FROM block_events WHERE device_id = ? ORDER BY blocked_at, id",
		&sqlitex.ExecOptions{
			Args: []any{c.DeviceID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				c.Blocks = append(c.Blocks, store.BlockEvent{
					At:     time.UnixMilli(stmt.ColumnInt64(0)).UTC(),
					Active: stmt.ColumnInt(1) != 0,
				})
				return nil
			},
		})
	if err != nil {
		return store.Client{}, fmt.Errorf("sqlitestore: loading block events: %w", err)
	}
	return c, nil
}
