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
	"sync"
	"testing"
	"time"

	"stash.kopano.io/kc/klogout/session"
)

func newManagers(t *testing.T, ctx context.Context) map[string]session.Manager {
	sqlite, err := NewSQLiteManager(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sqlite.Close()
	})

	return map[string]session.Manager{
		"memorymap": NewMemoryMapManager(ctx),
		"sqlite":    sqlite,
	}
}

func seed(t *testing.T, ctx context.Context, m session.Manager) {
	now := time.Now()
	for _, s := range []*session.Session{
		{ID: "s1", UserID: "u1", Subject: "alice", ClientID: "rp1", CreatedAt: now.Add(-3 * time.Minute)},
		{ID: "s2", UserID: "u1", Subject: "alice", ClientID: "rp2", CreatedAt: now.Add(-1 * time.Minute)},
		{ID: "s3", UserID: "u1", Subject: "alice", ClientID: "rp3", CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "s4", UserID: "u2", Subject: "bob", ClientID: "rp1", CreatedAt: now},
	} {
		if err := m.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
}

func TestManagerLookups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for name, m := range newManagers(t, ctx) {
		seed(t, ctx, m)

		s, err := m.Get(ctx, "s2")
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if s.UserID != "u1" || s.Subject != "alice" || s.ClientID != "rp2" {
			t.Errorf("%s: unexpected session %+v", name, s)
		}

		uid, _ := m.UserIDBySessionID(ctx, "s4")
		sub, _ := m.SubjectBySessionID(ctx, "s4")
		if uid != "u2" || sub != "bob" {
			t.Errorf("%s: unexpected uid/sub %s/%s", name, uid, sub)
		}

		sids, err := m.SessionIDsByUserID(ctx, "u1")
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(sids) != 3 || sids[0] != "s2" || sids[1] != "s3" || sids[2] != "s1" {
			t.Errorf("%s: sessions not most recent first: %v", name, sids)
		}
		sids, _ = m.SessionIDsBySubject(ctx, "alice")
		if len(sids) != 3 || sids[0] != "s2" {
			t.Errorf("%s: unexpected sessions by subject %v", name, sids)
		}

		if _, err = m.Get(ctx, "unknown"); err != session.ErrNotFound {
			t.Errorf("%s: expected ErrNotFound, got %v", name, err)
		}
		if err = m.Create(ctx, &session.Session{ID: "s1", UserID: "u9", Subject: "eve", ClientID: "rp9"}); err != session.ErrExists {
			t.Errorf("%s: expected ErrExists, got %v", name, err)
		}
		if err = m.Create(ctx, &session.Session{ID: "s9", UserID: "u9"}); err == nil {
			t.Errorf("%s: incomplete session created", name)
		}
	}
}

func TestManagerRevoke(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for name, m := range newManagers(t, ctx) {
		seed(t, ctx, m)

		if err := m.Revoke(ctx, "s2"); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := m.Revoke(ctx, "s2"); err != nil {
			t.Errorf("%s: second revoke failed: %v", name, err)
		}
		if err := m.Revoke(ctx, "unknown"); err != nil {
			t.Errorf("%s: revoke of unknown session failed: %v", name, err)
		}

		if _, err := m.Get(ctx, "s2"); err != session.ErrNotFound {
			t.Errorf("%s: revoked session resolved: %v", name, err)
		}
		if _, err := m.UserIDBySessionID(ctx, "s2"); err != session.ErrNotFound {
			t.Errorf("%s: revoked session resolved to user: %v", name, err)
		}
		sids, _ := m.SessionIDsByUserID(ctx, "u1")
		if len(sids) != 2 || sids[0] != "s3" {
			t.Errorf("%s: unexpected live sessions %v", name, sids)
		}

		// A revoked session id cannot be reused.
		if err := m.Create(ctx, &session.Session{ID: "s2", UserID: "u1", Subject: "alice", ClientID: "rp2"}); err != session.ErrExists {
			t.Errorf("%s: revoked session re-created: %v", name, err)
		}

		all, err := m.List(ctx)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		revoked := 0
		for _, s := range all {
			if s.Revoked {
				revoked++
				if s.ID != "s2" {
					t.Errorf("%s: unexpected revoked session %s", name, s.ID)
				}
			}
		}
		if len(all) != 4 || revoked != 1 {
			t.Errorf("%s: unexpected list result %d/%d", name, len(all), revoked)
		}
	}
}

func TestManagerConcurrentRevoke(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for name, m := range newManagers(t, ctx) {
		seed(t, ctx, m)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for _, sid := range []string{"s1", "s2", "s3"} {
					if err := m.Revoke(ctx, sid); err != nil {
						t.Errorf("%s: %v", name, err)
					}
				}
			}()
		}
		wg.Wait()

		sids, _ := m.SessionIDsByUserID(ctx, "u1")
		if len(sids) != 0 {
			t.Errorf("%s: sessions left after revoke: %v", name, sids)
		}
	}
}

func TestMemoryMapPurgeRevoked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemoryMapManager(ctx).(*memoryMapManager)
	seed(t, ctx, m)
	m.Revoke(ctx, "s1")

	m.purgeRevoked(time.Now().Add(-time.Hour))
	if _, found := m.table.Get("s1"); !found {
		t.Fatal("recently revoked session purged")
	}
	m.purgeRevoked(time.Now().Add(time.Second))
	if _, found := m.table.Get("s1"); found {
		t.Error("revoked session not purged")
	}
	if _, found := m.table.Get("s2"); !found {
		t.Error("live session purged")
	}

	err := m.Create(ctx, &session.Session{ID: "s1", UserID: "u1", Subject: "alice", ClientID: "rp1"})
	if err != session.ErrExists {
		t.Fatalf("expected purged session id to be rejected, got %v", err)
	}
	if _, err = m.Get(ctx, "s1"); err != session.ErrNotFound {
		t.Errorf("purged session resolved again: %v", err)
	}
}

func TestCreateGeneratesID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for name, m := range newManagers(t, ctx) {
		s := &session.Session{UserID: "u1", Subject: "alice", ClientID: "rp1"}
		if err := m.Create(ctx, s); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if s.ID == "" || s.CreatedAt.IsZero() {
			t.Errorf("%s: unexpected generated session %+v", name, s)
		}
	}
}
