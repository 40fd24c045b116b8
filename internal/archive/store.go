// Package archive persists ended session records to PostgreSQL so that
// reporting survives process restarts. Only session metadata is stored —
// never message bodies. The in-memory session table remains authoritative
// for the running process; the archive is a write-behind observer.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/strangr/chat-server/internal/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// saveTimeout bounds each background insert.
const saveTimeout = 5 * time.Second

// Record is one archived session log row.
type Record struct {
	ID           string    `json:"id"`
	UserA        string    `json:"user_a"`
	UserB        string    `json:"user_b"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Duration     int       `json:"duration"`
	MessageCount int       `json:"message_count"`
}

// Store manages session logs in PostgreSQL. A nil *Store is valid and
// drops all writes, so the server runs unchanged without a database.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL with the given DSN and verifies the
// connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: postgres ping: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("archive: load migrations: %w", err)
	}

	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("archive: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("archive: init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("archive: apply migrations: %w", err)
	}
	return nil
}

// Save inserts an archived session record. Re-archiving the same session
// id is a no-op so racing close paths stay idempotent.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_logs
			(id, user_a, user_b, start_time, end_time, duration_secs, message_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.UserA, rec.UserB, rec.StartTime, rec.EndTime,
		rec.Duration, rec.MessageCount,
	)
	if err != nil {
		return fmt.Errorf("archive: insert session log: %w", err)
	}
	return nil
}

// ListByDate returns archived records whose start time falls on the
// calendar day of the given time, oldest first.
func (s *Store) ListByDate(ctx context.Context, day time.Time) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.Add(24 * time.Hour)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_a, user_b, start_time, end_time, duration_secs, message_count
		FROM session_logs
		WHERE start_time >= $1 AND start_time < $2
		ORDER BY start_time`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("archive: query session logs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserA, &rec.UserB, &rec.StartTime,
			&rec.EndTime, &rec.Duration, &rec.MessageCount); err != nil {
			return nil, fmt.Errorf("archive: scan session log: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SessionOpened implements core.EventSink. Open sessions are not
// archived; only the terminal record matters.
func (s *Store) SessionOpened(core.Session) {}

// SessionEnded implements core.EventSink. The insert runs in the
// background so the hub never blocks on the database.
func (s *Store) SessionEnded(sess core.Session) {
	if s == nil || s.db == nil {
		return
	}
	rec := Record{
		ID:           sess.ID,
		UserA:        sess.UserA,
		UserB:        sess.UserB,
		StartTime:    sess.StartTime,
		EndTime:      sess.EndTime,
		Duration:     sess.Duration,
		MessageCount: sess.MessageCount,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := s.Save(ctx, rec); err != nil {
			log.Printf("[archive] save session %s: %v", rec.ID, err)
		}
	}()
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
