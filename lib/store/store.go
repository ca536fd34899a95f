// Package store keeps noise floor captures in a SQLite database.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gotmc/rfbench/lib/trace"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

//go:embed schema.sql
var schemaSQL string

const (
	insertSessionSQL = `
INSERT INTO sessions (start_time, resource, instrument, config)
VALUES (?, ?, ?, ?)`

	selectSessionsSQL = `
SELECT id, start_time, resource, instrument, config
FROM sessions
ORDER BY start_time`

	insertCaptureSQL = `
INSERT INTO captures (session_id,
                      timestamp,
                      center,
                      span,
                      ref_level,
                      rbw,
                      vbw,
                      averages,
                      noise_floor,
                      repaired,
                      samples)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertMarkerSQL = `
INSERT INTO markers (capture_id, position, name, frequency, power)
VALUES (?, ?, ?, ?, ?)`

	selectCapturesSQL = `
SELECT c.id,
       c.timestamp,
       s.instrument,
       c.center,
       c.span,
       c.ref_level,
       c.rbw,
       c.vbw,
       c.averages,
       c.noise_floor,
       c.repaired,
       c.samples
FROM captures c
         JOIN sessions s ON s.id = c.session_id
WHERE c.session_id = ?
ORDER BY c.timestamp, c.id`

	selectMarkersSQL = `
SELECT name, frequency, power
FROM markers
WHERE capture_id = ?
ORDER BY position`
)

// Session is a run of captures against one instrument.
type Session struct {
	ID         int64
	StartTime  time.Time
	Resource   string
	Instrument string
	Config     *string
}

// Store is a capture database. The schema is created on first write.
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

// Open returns a store backed by the database file at dbPath. No
// connection is made until the first read or write.
func Open(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"))
		if err != nil {
			s.writeDBErr = errors.Wrap(err, "opening write connection")
			return
		}
		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = errors.Wrap(err, "initializing schema")
			return
		}
		s.writeDB = db
	})
	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = errors.Wrap(err, "opening read connection")
			return
		}
		s.readDB = db
	})
	return s.readDB, s.readDBErr
}

// CreateSession records the start of a capture run. config may be a
// string, a []byte or any JSON-serializable value, or nil.
func (s *Store) CreateSession(ctx context.Context, resource, instrument string, config any) (sessionID int64, err error) {
	var configData sql.NullString
	switch c := config.(type) {
	case nil:
	case string:
		configData = sql.NullString{String: c, Valid: true}
	case []byte:
		configData = sql.NullString{String: string(c), Valid: true}
	default:
		p, err := json.Marshal(c)
		if err != nil {
			return 0, errors.Wrap(err, "marshaling config")
		}
		configData = sql.NullString{String: string(p), Valid: true}
	}

	db, err := s.getWriteDB()
	if err != nil {
		return 0, errors.Wrap(err, "getting write connection")
	}
	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		return 0, errors.Wrap(err, "preparing statement")
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, time.Now().UTC(), resource, instrument, configData)
	if err != nil {
		return 0, errors.Wrap(err, "inserting session")
	}
	if sessionID, err = result.LastInsertId(); err != nil {
		return 0, errors.Wrap(err, "getting session ID")
	}
	return sessionID, nil
}

// Sessions returns all sessions ordered by start time.
func (s *Store) Sessions(ctx context.Context) (sessions []Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, errors.Wrap(err, "getting read connection")
	}
	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var (
			sess   Session
			config sql.NullString
		)
		if err = rows.Scan(&sess.ID, &sess.StartTime, &sess.Resource, &sess.Instrument, &config); err != nil {
			return nil, errors.Wrap(err, "scanning session")
		}
		if config.Valid {
			sess.Config = &config.String
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SaveCapture stores c and its markers in a single transaction and returns
// the capture ID.
func (s *Store) SaveCapture(ctx context.Context, sessionID int64, c trace.Capture) (captureID int64, err error) {
	samples, err := json.Marshal(c.Samples)
	if err != nil {
		return 0, errors.Wrap(err, "marshaling samples")
	}
	if c.Repaired == nil {
		c.Repaired = []int{}
	}
	repaired, err := json.Marshal(c.Repaired)
	if err != nil {
		return 0, errors.Wrap(err, "marshaling repaired indices")
	}

	db, err := s.getWriteDB()
	if err != nil {
		return 0, errors.Wrap(err, "getting write connection")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	result, err := tx.ExecContext(ctx, insertCaptureSQL,
		sessionID,
		c.Time.UTC(),
		c.Center,
		c.Span,
		c.RefLevel,
		c.RBW,
		c.VBW,
		c.Averages,
		c.NoiseFloor,
		string(repaired),
		string(samples),
	)
	if err != nil {
		return 0, errors.Wrap(err, "inserting capture")
	}
	if captureID, err = result.LastInsertId(); err != nil {
		return 0, errors.Wrap(err, "getting capture ID")
	}

	stmt, err := tx.PrepareContext(ctx, insertMarkerSQL)
	if err != nil {
		return 0, errors.Wrap(err, "preparing statement")
	}
	defer closeWithError(stmt, &err)
	for i, m := range c.Markers {
		if _, err = stmt.ExecContext(ctx, captureID, i, m.Name, m.Freq, m.Power); err != nil {
			return 0, errors.Wrapf(err, "inserting marker %s", m.Name)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "committing transaction")
	}
	return captureID, nil
}

// Captures returns the captures of a session in acquisition order.
func (s *Store) Captures(ctx context.Context, sessionID int64) (captures []trace.Capture, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, errors.Wrap(err, "getting read connection")
	}
	rows, err := db.QueryContext(ctx, selectCapturesSQL, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying captures")
	}
	defer closeWithError(rows, &err)

	var ids []int64
	for rows.Next() {
		var (
			id       int64
			c        trace.Capture
			samples  string
			repaired string
		)
		if err = rows.Scan(&id, &c.Time, &c.Instrument, &c.Center, &c.Span, &c.RefLevel,
			&c.RBW, &c.VBW, &c.Averages, &c.NoiseFloor, &repaired, &samples); err != nil {
			return nil, errors.Wrap(err, "scanning capture")
		}
		if err = json.Unmarshal([]byte(samples), &c.Samples); err != nil {
			return nil, errors.Wrapf(err, "decoding samples of capture %d", id)
		}
		if err = json.Unmarshal([]byte(repaired), &c.Repaired); err != nil {
			return nil, errors.Wrapf(err, "decoding repaired indices of capture %d", id)
		}
		ids = append(ids, id)
		captures = append(captures, c)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		if captures[i].Markers, err = s.markers(ctx, db, id); err != nil {
			return nil, err
		}
	}
	return captures, nil
}

func (s *Store) markers(ctx context.Context, db *sql.DB, captureID int64) (markers []trace.Marker, err error) {
	rows, err := db.QueryContext(ctx, selectMarkersSQL, captureID)
	if err != nil {
		return nil, errors.Wrap(err, "querying markers")
	}
	defer closeWithError(rows, &err)
	for rows.Next() {
		var m trace.Marker
		if err = rows.Scan(&m.Name, &m.Freq, &m.Power); err != nil {
			return nil, errors.Wrap(err, "scanning marker")
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

// Close releases both connections. It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.writeDB != nil {
			s.closeErr = multierr.Append(s.closeErr, errors.Wrap(s.writeDB.Close(), "closing write connection"))
		}
		if s.readDB != nil {
			s.closeErr = multierr.Append(s.closeErr, errors.Wrap(s.readDB.Close(), "closing read connection"))
		}
	})
	return s.closeErr
}

func closeWithError(c io.Closer, err *error) {
	if cErr := c.Close(); cErr != nil && *err == nil {
		*err = errors.Wrap(cErr, "closing")
	}
}
