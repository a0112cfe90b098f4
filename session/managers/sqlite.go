/*
 * Copyright 2020 Kopano and its licensors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License, version 3,
 * as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package managers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stash.kopano.io/kgol/rndm"
	_ "modernc.org/sqlite" // SQLite driver.

	"stash.kopano.io/kc/klogout/session"
)

// SQLiteManager is a session.Manager which persists sessions in SQLite.
type SQLiteManager struct {
	db *sql.DB
}

// NewSQLiteManager opens the SQLite database at the provided path, creates
// the session schema if needed and returns a session.Manager backed by it.
// Use ":memory:" for a private in-memory database.
func NewSQLiteManager(ctx context.Context, dbPath string) (*SQLiteManager, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %v", err)
	}
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		// Every connection would get its own in-memory database.
		db.SetMaxOpenConns(1)
	}

	if err = initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteManager{
		db: db,
	}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for name, stmt := range map[string]string{
		"sessions": `
			CREATE TABLE IF NOT EXISTS sessions (
				sid         TEXT PRIMARY KEY,
				uid         TEXT NOT NULL,
				sub         TEXT NOT NULL,
				client_id   TEXT NOT NULL,
				created_at  INTEGER NOT NULL,
				revoked_at  INTEGER
			);`,
		"sessions_uid": `CREATE INDEX IF NOT EXISTS sessions_uid ON sessions (uid);`,
		"sessions_sub": `CREATE INDEX IF NOT EXISTS sessions_sub ON sessions (sub);`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init '%s' schema: %v", name, err)
		}
	}

	return nil
}

// Close closes the underlying database.
func (sm *SQLiteManager) Close() error {
	return sm.db.Close()
}

// Create implements the session.Manager interface.
func (sm *SQLiteManager) Create(ctx context.Context, s *session.Session) error {
	if s.ID == "" {
		s.ID = rndm.GenerateRandomString(32)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if err := s.Validate(); err != nil {
		return err
	}

	result, err := sm.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (sid, uid, sub, client_id, created_at)
		VALUES (?1, ?2, ?3, ?4, ?5);`,
		s.ID,
		s.UserID,
		s.Subject,
		s.ClientID,
		s.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("couldn't insert into sessions: %v", err)
	}
	if count, _ := result.RowsAffected(); count == 0 {
		return session.ErrExists
	}

	return nil
}

// Get implements the session.Store interface.
func (sm *SQLiteManager) Get(ctx context.Context, sid string) (*session.Session, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT sid, uid, sub, client_id, created_at
		FROM sessions
		WHERE sid=?1 AND revoked_at IS NULL;`,
		sid,
	)

	s, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Revoke implements the session.Store interface.
func (sm *SQLiteManager) Revoke(ctx context.Context, sid string) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at=?1
		WHERE sid=?2 AND revoked_at IS NULL;`,
		time.Now().UnixNano(),
		sid,
	)
	if err != nil {
		return fmt.Errorf("couldn't revoke session: %v", err)
	}

	return nil
}

// UserIDBySessionID implements the session.Store interface.
func (sm *SQLiteManager) UserIDBySessionID(ctx context.Context, sid string) (string, error) {
	s, err := sm.Get(ctx, sid)
	if err != nil {
		return "", err
	}

	return s.UserID, nil
}

// SubjectBySessionID implements the session.Store interface.
func (sm *SQLiteManager) SubjectBySessionID(ctx context.Context, sid string) (string, error) {
	s, err := sm.Get(ctx, sid)
	if err != nil {
		return "", err
	}

	return s.Subject, nil
}

// SessionIDsByUserID implements the session.Store interface.
func (sm *SQLiteManager) SessionIDsByUserID(ctx context.Context, uid string) ([]string, error) {
	return sm.sessionIDs(ctx, `
		SELECT sid
		FROM sessions
		WHERE uid=?1 AND revoked_at IS NULL
		ORDER BY created_at DESC, sid ASC;`,
		uid,
	)
}

// SessionIDsBySubject implements the session.Store interface.
func (sm *SQLiteManager) SessionIDsBySubject(ctx context.Context, sub string) ([]string, error) {
	return sm.sessionIDs(ctx, `
		SELECT sid
		FROM sessions
		WHERE sub=?1 AND revoked_at IS NULL
		ORDER BY created_at DESC, sid ASC;`,
		sub,
	)
}

func (sm *SQLiteManager) sessionIDs(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("couldn't query sessions: %v", err)
	}
	defer rows.Close()

	var sids []string
	for rows.Next() {
		var sid string
		if err = rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("couldn't scan session id: %v", err)
		}
		sids = append(sids, sid)
	}

	return sids, rows.Err()
}

// List implements the session.Manager interface.
func (sm *SQLiteManager) List(ctx context.Context) ([]*session.Session, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sid, uid, sub, client_id, created_at, revoked_at IS NOT NULL
		FROM sessions
		ORDER BY created_at DESC, sid ASC;`,
	)
	if err != nil {
		return nil, fmt.Errorf("couldn't query sessions: %v", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		var s session.Session
		var createdAt int64
		if err = rows.Scan(&s.ID, &s.UserID, &s.Subject, &s.ClientID, &createdAt, &s.Revoked); err != nil {
			return nil, fmt.Errorf("couldn't scan session: %v", err)
		}
		s.CreatedAt = time.Unix(0, createdAt)
		sessions = append(sessions, &s)
	}

	return sessions, rows.Err()
}

func scanSession(row *sql.Row) (*session.Session, error) {
	var s session.Session
	var createdAt int64
	err := row.Scan(&s.ID, &s.UserID, &s.Subject, &s.ClientID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't scan session: %v", err)
	}
	s.CreatedAt = time.Unix(0, createdAt)

	return &s, nil
}
