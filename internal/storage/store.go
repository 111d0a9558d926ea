// Package storage persists scan sessions and activity events to
// sqlite so they can be inspected and rendered after a run.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store handles database operations. Writes go through a single WAL
// connection; reads use a separate read-only connection so renderers
// can follow a live session file.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// New creates a store for the given database path. Connections are
// opened lazily on first use.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("empty database path")
	}
	return &Store{dbPath: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", s.dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
		if err != nil {
			s.writeDBErr = err
			return
		}

		if err = initSchema(db); err != nil {
			_ = db.Close()
			s.writeDBErr = err
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", s.dbPath+"?mode=ro")
		if err != nil {
			s.readDBErr = err
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// Close closes both connections.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.writeDB != nil {
			if err := s.writeDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing write connection: %w", err))
			}
		}
		if s.readDB != nil {
			if err := s.readDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing read connection: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// CreateSession creates a new session row and returns its ID. config
// can be a string, []byte or any JSON-serializable value.
func (s *Store) CreateSession(startTime time.Time, config any) (sessionID int64, err error) {
	var configData sql.NullString

	if config != nil {
		switch v := config.(type) {
		case string:
			configData = sql.NullString{String: v, Valid: true}

		case []byte:
			configData = sql.NullString{String: string(v), Valid: true}

		default:
			var p []byte
			if p, err = json.Marshal(config); err != nil {
				return 0, fmt.Errorf("marshaling config: %w", err)
			}
			configData = sql.NullString{String: string(p), Valid: true}
		}
	}

	db, err := s.getWriteDB()
	if err != nil {
		return 0, fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.Exec(insertSessionSQL, startTime.UTC(), configData)
	if err != nil {
		return 0, fmt.Errorf("inserting session: %w", err)
	}

	return result.LastInsertId()
}

// Session returns a session by its ID, or nil if not found.
func (s *Store) Session(id int64) (*SessionData, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	var data SessionData
	err = db.QueryRow(selectSessionSQL, id).Scan(&data.ID, &data.StartTime, &data.Config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting session: %w", err)
	}

	return &data, nil
}

// Sessions returns all sessions ordered by start time.
func (s *Store) Sessions() ([]*SessionData, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.Query(selectSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("selecting sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionData
	for rows.Next() {
		var data SessionData
		if err = rows.Scan(&data.ID, &data.StartTime, &data.Config); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, &data)
	}

	return sessions, rows.Err()
}

// InsertChannelEvents stores a batch of channel activity transitions
// within a single transaction.
func (s *Store) InsertChannelEvents(events []ChannelEventData) (err error) {
	if len(events) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(insertChannelEventSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err = stmt.Exec(
			ev.SessionID,
			ev.Timestamp.UTC(),
			ev.ChannelID,
			ev.Label,
			ev.Frequency,
			ev.Status,
			ev.RSSI,
			ev.NoiseFloor,
		); err != nil {
			return fmt.Errorf("inserting channel event: %w", err)
		}
	}

	return tx.Commit()
}

// InsertReceiverEvent stores a receiver health or assignment change.
func (s *Store) InsertReceiverEvent(ev ReceiverEventData) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	if _, err = db.Exec(
		insertReceiverEventSQL,
		ev.SessionID,
		ev.Timestamp.UTC(),
		ev.ReceiverID,
		ev.Health,
		ev.WindowID,
	); err != nil {
		return fmt.Errorf("inserting receiver event: %w", err)
	}

	return nil
}

// ChannelEvents returns a session's channel transitions in time order.
func (s *Store) ChannelEvents(sessionID int64) ([]ChannelEventData, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.Query(selectChannelEventsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("selecting channel events: %w", err)
	}
	defer rows.Close()

	var events []ChannelEventData
	for rows.Next() {
		var ev ChannelEventData
		if err = rows.Scan(
			&ev.ID,
			&ev.SessionID,
			&ev.Timestamp,
			&ev.ChannelID,
			&ev.Label,
			&ev.Frequency,
			&ev.Status,
			&ev.RSSI,
			&ev.NoiseFloor,
		); err != nil {
			return nil, fmt.Errorf("scanning channel event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// ReceiverEvents returns a session's receiver transitions in time
// order.
func (s *Store) ReceiverEvents(sessionID int64) ([]ReceiverEventData, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.Query(selectReceiverEventsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("selecting receiver events: %w", err)
	}
	defer rows.Close()

	var events []ReceiverEventData
	for rows.Next() {
		var ev ReceiverEventData
		if err = rows.Scan(
			&ev.ID,
			&ev.SessionID,
			&ev.Timestamp,
			&ev.ReceiverID,
			&ev.Health,
			&ev.WindowID,
		); err != nil {
			return nil, fmt.Errorf("scanning receiver event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}
