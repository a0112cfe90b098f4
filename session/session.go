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

package session

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Errors returned by session stores.
var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session exists")
)

// Session is a session of a user agent for a logged-in End-User at a single
// relying party.
type Session struct {
	ID        string
	UserID    string
	Subject   string
	ClientID  string
	CreatedAt time.Time

	Revoked bool
}

// Validate checks that the accociated session is complete.
func (s *Session) Validate() error {
	switch {
	case s.ID == "":
		return errors.New("session id is required")
	case s.UserID == "":
		return errors.New("user id is required")
	case s.Subject == "":
		return errors.New("subject is required")
	case s.ClientID == "":
		return errors.New("client id is required")
	}

	return nil
}

// A Store resolves sessions and the single-sign-on index and revokes sessions.
// Revoked sessions never resolve again.
type Store interface {
	// Get returns the live session with the provided id or ErrNotFound.
	Get(ctx context.Context, sid string) (*Session, error)
	// Revoke revokes the session with the provided id. Revoking an unknown or
	// already revoked session is not an error.
	Revoke(ctx context.Context, sid string) error

	UserIDBySessionID(ctx context.Context, sid string) (string, error)
	// SessionIDsByUserID returns the ids of the live sessions of the provided
	// user, most recent first.
	SessionIDsByUserID(ctx context.Context, uid string) ([]string, error)
	SubjectBySessionID(ctx context.Context, sid string) (string, error)
	// SessionIDsBySubject returns the ids of the live sessions with the
	// provided subject, most recent first.
	SessionIDsBySubject(ctx context.Context, sub string) ([]string, error)
}

// A Manager is a Store which also creates and lists sessions.
type Manager interface {
	Store

	Create(ctx context.Context, s *Session) error
	List(ctx context.Context) ([]*Session, error)
}

// SortMostRecentFirst sorts the provided sessions by creation time, most
// recent first. Sessions created at the same time are ordered by id.
func SortMostRecentFirst(sessions []*Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}
