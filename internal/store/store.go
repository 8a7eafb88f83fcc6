// Package store keeps dashboard state that must survive restarts: login
// sessions with their Google tokens, and geocoding results.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/oauth2"

	appLog "mealendar/internal/log"
	"mealendar/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

const schemaName = "mealendar"

// Store is a SQLite-backed store. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and brings the schema up
// to date.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: database path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies schema versions in order, recording progress in
// db_version.
func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow(`SELECT version FROM db_version WHERE name = ?`, schemaName).Scan(&version)
	if err != nil {
		if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS db_version (
			name TEXT PRIMARY KEY,
			version INTEGER
		)`); err != nil {
			return fmt.Errorf("create db_version: %w", err)
		}
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO db_version (name, version) VALUES (?, 0)`, schemaName); err != nil {
			return fmt.Errorf("init db_version: %w", err)
		}
		version = 0
	}

	if version == 0 {
		if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			oauth_state TEXT NOT NULL DEFAULT '',
			token TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`); err != nil {
			return fmt.Errorf("create sessions: %w", err)
		}
		if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS geocode_cache (
			query TEXT PRIMARY KEY,
			lat REAL,
			lng REAL,
			found INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`); err != nil {
			return fmt.Errorf("create geocode_cache: %w", err)
		}
		version = 1
		if err := s.setVersion(version); err != nil {
			return err
		}
		appLog.Info("store schema created", "version", version)
	}
	return nil
}

func (s *Store) setVersion(v int) error {
	_, err := s.db.Exec(`UPDATE db_version SET version = ? WHERE name = ?`, v, schemaName)
	if err != nil {
		return fmt.Errorf("update db_version: %w", err)
	}
	return nil
}

// Session is one browser login.
type Session struct {
	ID         string
	OAuthState string
	// Token is nil until the OAuth callback succeeds.
	Token     *oauth2.Token
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Authenticated reports whether the session holds a Google token.
func (s *Session) Authenticated() bool {
	return s != nil && s.Token != nil
}

// CreateSession stores a new session waiting for the OAuth callback.
func (s *Store) CreateSession(ctx context.Context, id, state string) (*Session, error) {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, oauth_state, token, created_at, updated_at) VALUES (?, ?, NULL, ?, ?)`,
		id, state, now.Unix(), now.Unix())
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, OAuthState: state, CreatedAt: now.Truncate(time.Second), UpdatedAt: now.Truncate(time.Second)}, nil
}

// GetSession loads a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var (
		sess      Session
		tokenJSON sql.NullString
		created   int64
		updated   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, oauth_state, token, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.OAuthState, &tokenJSON, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if tokenJSON.Valid && tokenJSON.String != "" {
		var tok oauth2.Token
		if err := json.Unmarshal([]byte(tokenJSON.String), &tok); err != nil {
			return nil, fmt.Errorf("store: decode token for session %s: %w", id, err)
		}
		sess.Token = &tok
	}
	sess.CreatedAt = time.Unix(created, 0).UTC()
	sess.UpdatedAt = time.Unix(updated, 0).UTC()
	return &sess, nil
}

// SaveToken stores tok on the session and clears the pending OAuth state.
func (s *Store) SaveToken(ctx context.Context, id string, tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("store: token is nil")
	}
	tokenJSON, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET token = ?, oauth_state = '', updated_at = ? WHERE id = ?`,
		string(tokenJSON), s.now().UTC().Unix(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ClearState forgets the pending OAuth state so a callback cannot be
// replayed.
func (s *Store) ClearState(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET oauth_state = '', updated_at = ? WHERE id = ?`,
		s.now().UTC().Unix(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteSession removes a session. Deleting a missing session is not an
// error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// PruneSessions deletes sessions not touched since before.
func (s *Store) PruneSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, before.UTC().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GeocodeEntry is a cached lookup. Coord is nil when the geocoder had no
// result for Query.
type GeocodeEntry struct {
	Query     string
	Coord     *model.LatLng
	UpdatedAt time.Time
}

// LookupGeocode returns the cached result for query.
func (s *Store) LookupGeocode(ctx context.Context, query string) (*GeocodeEntry, error) {
	var (
		lat, lng sql.NullFloat64
		found    bool
		updated  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT lat, lng, found, updated_at FROM geocode_cache WHERE query = ?`, query).
		Scan(&lat, &lng, &found, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e := &GeocodeEntry{Query: query, UpdatedAt: time.Unix(updated, 0).UTC()}
	if found && lat.Valid && lng.Valid {
		e.Coord = &model.LatLng{Lat: lat.Float64, Lng: lng.Float64}
	}
	return e, nil
}

// PutGeocode caches a lookup result. A nil coord records a miss.
func (s *Store) PutGeocode(ctx context.Context, query string, coord *model.LatLng) error {
	var lat, lng sql.NullFloat64
	if coord != nil {
		lat = sql.NullFloat64{Float64: coord.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: coord.Lng, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO geocode_cache (query, lat, lng, found, updated_at) VALUES (?, ?, ?, ?, ?)`,
		query, lat, lng, coord != nil, s.now().UTC().Unix())
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
