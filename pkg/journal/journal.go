// Package journal persists runtime events (state changes, moves,
// faults, overruns) to a SQLite database.
//
// Writes go through a buffered channel and a single writer goroutine so
// the scan loop never blocks on disk I/O. When the buffer is full the
// event is dropped and counted instead of stalling a cycle.
package journal

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"berryplc/pkg/log"
)

// EventType classifies journal entries.
type EventType string

const (
	EventStartup    EventType = "startup"
	EventShutdown   EventType = "shutdown"
	EventStepChange EventType = "step_change"
	EventMoveStart  EventType = "move_start"
	EventMoveDone   EventType = "move_done"
	EventMoveCancel EventType = "move_cancel"
	EventOverrun    EventType = "overrun"
	EventEstop      EventType = "estop"
	EventFault      EventType = "fault"
)

// Event is one journal entry.
type Event struct {
	At     time.Time
	Type   EventType
	Source string // step, axis or subsystem name
	Detail string
}

// Journal is an asynchronous event writer.
type Journal struct {
	db     *sql.DB
	logger *log.Logger

	events  chan Event
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

const defaultBuffer = 256

// Open creates (or opens) the journal database at path and starts the
// writer goroutine. Use ":memory:" for a throwaway journal.
func Open(path string, logger *log.Logger) (*Journal, error) {
	if logger == nil {
		logger = log.New("journal")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The single writer goroutine is the only user of this handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, at);
	`); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{
		db:     db,
		logger: logger,
		events: make(chan Event, defaultBuffer),
		done:   make(chan struct{}),
	}
	go j.writer()
	return j, nil
}

// Record queues an event. A zero At is stamped with the current time.
// Never blocks: if the buffer is full the event is dropped and counted.
func (j *Journal) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case j.events <- ev:
	default:
		j.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to a full buffer.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Close flushes queued events and closes the database.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		close(j.events)
		<-j.done
	})
	return j.db.Close()
}

func (j *Journal) writer() {
	defer close(j.done)
	for ev := range j.events {
		_, err := j.db.Exec(
			`INSERT INTO events (at, type, source, detail) VALUES (?, ?, ?, ?)`,
			ev.At.UnixNano(), string(ev.Type), ev.Source, ev.Detail,
		)
		if err != nil {
			j.logger.ErrorFields("journal write failed", log.Fields{
				"type":  string(ev.Type),
				"error": err.Error(),
			})
		}
	}
}

// Query returns events of the given types (all types when empty) since
// the given time, oldest first, up to limit rows.
func (j *Journal) Query(ctx context.Context, since time.Time, limit int, types ...EventType) ([]Event, error) {
	query := `SELECT at, type, source, detail FROM events WHERE at >= ?`
	args := []interface{}{since.UnixNano()}
	if len(types) > 0 {
		query += ` AND type IN (?` + strings.Repeat(",?", len(types)-1) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			atN            int64
			typ, src, det  string
		)
		if err := rows.Scan(&atN, &typ, &src, &det); err != nil {
			return nil, err
		}
		out = append(out, Event{
			At:     time.Unix(0, atN),
			Type:   EventType(typ),
			Source: src,
			Detail: det,
		})
	}
	return out, rows.Err()
}
