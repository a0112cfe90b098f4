/*
 * Copyright 2017 Kopano and its licensors
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
	"sync"
	"time"

	"github.com/deckarep/golang-set"
	"github.com/orcaman/concurrent-map"
	"stash.kopano.io/kgol/rndm"

	"stash.kopano.io/kc/klogout/session"
)

const revokedRetention = 24 * time.Hour

type memoryMapManager struct {
	mutex sync.Mutex

	table     cmap.ConcurrentMap
	byUser    cmap.ConcurrentMap
	bySubject cmap.ConcurrentMap

	// purged holds the ids of purged revoked sessions. They are never
	// accepted again.
	purged mapset.Set
}

type sessionRecord struct {
	session *session.Session
	revoked time.Time
}

// NewMemoryMapManager creates a new in-memory session.Manager. Revoked
// sessions are kept as tombstones until they are purged by a cleanup routine
// which runs until the provided context is done. Only the ids of purged
// sessions are retained.
func NewMemoryMapManager(ctx context.Context) session.Manager {
	sm := &memoryMapManager{
		table:     cmap.New(),
		byUser:    cmap.New(),
		bySubject: cmap.New(),
		purged:    mapset.NewSet(),
	}

	// Cleanup function.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sm.purgeRevoked(time.Now().Add(-revokedRetention))
			case <-ctx.Done():
				return
			}
		}
	}()

	return sm
}

func (sm *memoryMapManager) purgeRevoked(deadline time.Time) {
	var expired []string
	var record *sessionRecord
	for entry := range sm.table.IterBuffered() {
		record = entry.Val.(*sessionRecord)
		if !record.revoked.IsZero() && record.revoked.Before(deadline) {
			expired = append(expired, entry.Key)
		}
	}
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	for _, sid := range expired {
		sm.purged.Add(sid)
		sm.table.Remove(sid)
	}
}

func (sm *memoryMapManager) lookup(sid string) (*sessionRecord, bool) {
	stored, found := sm.table.Get(sid)
	if !found {
		return nil, false
	}
	record := stored.(*sessionRecord)
	if !record.revoked.IsZero() {
		return nil, false
	}

	return record, true
}

func index(m cmap.ConcurrentMap, key string) mapset.Set {
	m.SetIfAbsent(key, mapset.NewSet())
	stored, _ := m.Get(key)
	return stored.(mapset.Set)
}

func unindex(m cmap.ConcurrentMap, key string, sid string) {
	stored, found := m.Get(key)
	if !found {
		return
	}
	set := stored.(mapset.Set)
	set.Remove(sid)
	if set.Cardinality() == 0 {
		m.Remove(key)
	}
}

// Create implements the session.Manager interface. A random session id is
// generated if the provided session has none.
func (sm *memoryMapManager) Create(ctx context.Context, s *session.Session) error {
	if s.ID == "" {
		s.ID = rndm.GenerateRandomString(32)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if err := s.Validate(); err != nil {
		return err
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.purged.Contains(s.ID) {
		return session.ErrExists
	}
	stored := *s
	stored.Revoked = false
	if !sm.table.SetIfAbsent(s.ID, &sessionRecord{session: &stored}) {
		return session.ErrExists
	}
	index(sm.byUser, s.UserID).Add(s.ID)
	index(sm.bySubject, s.Subject).Add(s.ID)

	return nil
}

// Get implements the session.Store interface.
func (sm *memoryMapManager) Get(ctx context.Context, sid string) (*session.Session, error) {
	record, ok := sm.lookup(sid)
	if !ok {
		return nil, session.ErrNotFound
	}

	s := *record.session
	return &s, nil
}

// Revoke implements the session.Store interface.
func (sm *memoryMapManager) Revoke(ctx context.Context, sid string) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	record, ok := sm.lookup(sid)
	if !ok {
		return nil
	}

	sm.table.Set(sid, &sessionRecord{
		session: record.session,
		revoked: time.Now(),
	})
	unindex(sm.byUser, record.session.UserID, sid)
	unindex(sm.bySubject, record.session.Subject, sid)

	return nil
}

// UserIDBySessionID implements the session.Store interface.
func (sm *memoryMapManager) UserIDBySessionID(ctx context.Context, sid string) (string, error) {
	record, ok := sm.lookup(sid)
	if !ok {
		return "", session.ErrNotFound
	}

	return record.session.UserID, nil
}

// SubjectBySessionID implements the session.Store interface.
func (sm *memoryMapManager) SubjectBySessionID(ctx context.Context, sid string) (string, error) {
	record, ok := sm.lookup(sid)
	if !ok {
		return "", session.ErrNotFound
	}

	return record.session.Subject, nil
}

// SessionIDsByUserID implements the session.Store interface.
func (sm *memoryMapManager) SessionIDsByUserID(ctx context.Context, uid string) ([]string, error) {
	return sm.indexed(sm.byUser, uid), nil
}

// SessionIDsBySubject implements the session.Store interface.
func (sm *memoryMapManager) SessionIDsBySubject(ctx context.Context, sub string) ([]string, error) {
	return sm.indexed(sm.bySubject, sub), nil
}

func (sm *memoryMapManager) indexed(m cmap.ConcurrentMap, key string) []string {
	stored, found := m.Get(key)
	if !found {
		return nil
	}

	var sessions []*session.Session
	for _, v := range stored.(mapset.Set).ToSlice() {
		if record, ok := sm.lookup(v.(string)); ok {
			sessions = append(sessions, record.session)
		}
	}
	session.SortMostRecentFirst(sessions)

	sids := make([]string, len(sessions))
	for i, s := range sessions {
		sids[i] = s.ID
	}

	return sids
}

// List implements the session.Manager interface.
func (sm *memoryMapManager) List(ctx context.Context) ([]*session.Session, error) {
	var sessions []*session.Session
	for entry := range sm.table.IterBuffered() {
		record := entry.Val.(*sessionRecord)
		s := *record.session
		s.Revoked = !record.revoked.IsZero()
		sessions = append(sessions, &s)
	}
	session.SortMostRecentFirst(sessions)

	return sessions, nil
}
