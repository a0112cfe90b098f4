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

package introspection

import (
	"context"
	"crypto/rand"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ed25519"

	"stash.kopano.io/kc/klogout/identity/users"
	"stash.kopano.io/kc/klogout/signing"
)

const testIssuer = "https://issuer.example"

var logger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: &logrus.TextFormatter{DisableColors: true},
	Level:     logrus.DebugLevel,
}

func newTestManager(t *testing.T, issuer string) *signing.Manager {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	m := signing.NewManager(&signing.Config{
		Issuer: issuer,
		Logger: logger,
	})
	if err = m.AddSigningKey("k1", key, nil); err != nil {
		t.Fatal(err)
	}
	return m
}

func sign(t *testing.T, m *signing.Manager, claims map[string]interface{}, lifetime time.Duration) string {
	token, err := m.Sign(claims, &signing.SignOptions{
		Audience: "rp1",
		Lifetime: lifetime,
	})
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestIntrospectActive(t *testing.T) {
	tokens := newTestManager(t, testIssuer)
	i := New(&Config{
		Tokens: tokens,
		Logger: logger,
	})

	token := sign(t, tokens, map[string]interface{}{
		"sub":   "alice",
		"scope": "openid profile",
		"azp":   "rp1",
		"jti":   "j1",
	}, time.Hour)

	response := i.Introspect(context.Background(), token)
	if !response.Active {
		t.Fatal("expected active token")
	}
	if response.Subject != "alice" || response.Scope != "openid profile" || response.ClientID != "rp1" {
		t.Errorf("unexpected response: %+v", response)
	}
	if response.Issuer != testIssuer || response.Audience != "rp1" || response.JWTID != "j1" {
		t.Errorf("unexpected response: %+v", response)
	}
	if response.ExpiresAt == 0 || response.IssuedAt == 0 {
		t.Errorf("time claims missing: %+v", response)
	}
	if response.Username != "" {
		t.Errorf("username released without configuration")
	}
}

func TestIntrospectInactive(t *testing.T) {
	tokens := newTestManager(t, testIssuer)
	foreign := newTestManager(t, "https://other.example")
	i := New(&Config{
		Tokens: tokens,
		Logger: logger,
	})

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not.a.token",
		"expired":      sign(t, tokens, map[string]interface{}{"sub": "alice"}, -time.Minute),
		"foreign":      sign(t, foreign, map[string]interface{}{"sub": "alice"}, time.Hour),
		"confirmation": sign(t, tokens, map[string]interface{}{"sid": "s1", "kc.isLogoutConfirmation": true}, time.Hour),
		"logout":       sign(t, tokens, map[string]interface{}{"sid": "s1", "events": map[string]interface{}{}}, time.Hour),
	}
	for name, token := range tests {
		response := i.Introspect(context.Background(), token)
		if response.Active {
			t.Errorf("%s: expected inactive token", name)
		}
		if response.Subject != "" {
			t.Errorf("%s: inactive response carries claims: %+v", name, response)
		}
	}
}

func TestIntrospectUsername(t *testing.T) {
	tokens := newTestManager(t, testIssuer)
	directory, err := users.NewStaticDirectory("", logger)
	if err != nil {
		t.Fatal(err)
	}
	directory.Add("alice", "alice@example.com")

	i := New(&Config{
		Tokens:          tokens,
		Users:           directory,
		ReleaseUsername: true,
		Logger:          logger,
	})

	response := i.Introspect(context.Background(), sign(t, tokens, map[string]interface{}{"sub": "alice"}, time.Hour))
	if !response.Active || response.Username != "alice@example.com" {
		t.Errorf("unexpected response: %+v", response)
	}

	// Failing enrichment makes the token inactive.
	response = i.Introspect(context.Background(), sign(t, tokens, map[string]interface{}{"sub": "bob"}, time.Hour))
	if response.Active {
		t.Errorf("expected inactive token for unknown user")
	}
}
