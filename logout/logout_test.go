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

package logout

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/klogout/cookie"
	"stash.kopano.io/kc/klogout/identity/clients"
	"stash.kopano.io/kc/klogout/oidc"
	"stash.kopano.io/kc/klogout/oidc/payload"
	"stash.kopano.io/kc/klogout/session"
	"stash.kopano.io/kc/klogout/session/managers"
	"stash.kopano.io/kc/klogout/signing"
)

const testIssuer = "https://issuer.example"

var logger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: &logrus.TextFormatter{DisableColors: true},
	Level:     logrus.DebugLevel,
}

type testEnv struct {
	engine   *Engine
	sessions session.Manager
	clients  *clients.Registry
	tokens   *signing.Manager
	codec    cookie.Codec
}

func newTestEnv(t *testing.T, ctx context.Context, modify func(*Config)) *testEnv {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tokens := signing.NewManager(&signing.Config{
		Issuer: testIssuer,
		Logger: logger,
	})
	if err = tokens.AddSigningKey("default", key, nil); err != nil {
		t.Fatal(err)
	}

	registry, err := clients.NewRegistry(ctx, "", logger)
	if err != nil {
		t.Fatal(err)
	}

	codec := cookie.NewSecureCookieCodec([]byte("0123456789abcdef0123456789abcdef"), []byte("abcdef0123456789abcdef0123456789"), 0)
	dealer, err := cookie.NewDealer(&cookie.Config{
		Codec:  codec,
		Logger: logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	sessions := managers.NewMemoryMapManager(ctx)

	config := &Config{
		SessionStore: sessions,
		Clients:      registry,
		Tokens:       tokens,
		Cookies:      dealer,
		Logger:       logger,
	}
	if modify != nil {
		modify(config)
	}
	engine, err := NewEngine(config)
	if err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		engine:   engine,
		sessions: sessions,
		clients:  registry,
		tokens:   tokens,
		codec:    codec,
	}
}

func (env *testEnv) register(t *testing.T, client *clients.ClientRegistration) {
	if err := env.clients.Register(client); err != nil {
		t.Fatal(err)
	}
}

func (env *testEnv) createSession(t *testing.T, ctx context.Context, sid, uid, sub, clientID string, age time.Duration) {
	err := env.sessions.Create(ctx, &session.Session{
		ID:        sid,
		UserID:    uid,
		Subject:   sub,
		ClientID:  clientID,
		CreatedAt: time.Now().Add(-age),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (env *testEnv) cookieHeader(t *testing.T, sid string) string {
	value, err := env.codec.Encode(cookie.DefaultCookieName, &cookie.Info{
		Version:   1,
		SessionID: sid,
	})
	if err != nil {
		t.Fatal(err)
	}
	return cookie.DefaultCookieName + "=" + value
}

func (env *testEnv) idTokenHint(t *testing.T, sub string, lifetime time.Duration) string {
	token, err := env.tokens.Sign(map[string]interface{}{
		oidc.SubjectIdentifierClaim: sub,
	}, &signing.SignOptions{
		Audience: "rp1",
		Lifetime: lifetime,
	})
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func expectKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := NewEngine(&Config{Logger: logger})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestParseRequestSessionHintMismatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)
	env.register(t, &clients.ClientRegistration{ID: "rp1"})
	env.createSession(t, ctx, "s1", "u1", "alice", "rp1", 0)
	env.createSession(t, ctx, "s2", "u2", "bob", "rp1", 0)

	esr := &payload.EndSessionRequest{
		RawIDTokenHint: env.idTokenHint(t, "bob", time.Hour),
	}
	_, err := env.engine.ParseRequest(ctx, esr, nil, env.cookieHeader(t, "s1"))
	expectKind(t, err, KindSessionMismatch)
}

func TestParseRequestHintMatchesCookie(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)
	env.register(t, &clients.ClientRegistration{
		ID:                     "rp1",
		PostLogoutRedirectURIs: []string{"https://rp1/bye"},
	})
	env.createSession(t, ctx, "s1", "u1", "alice", "rp1", 0)

	// Expired hints identify the session as well.
	esr := &payload.EndSessionRequest{
		RawIDTokenHint: env.idTokenHint(t, "alice", -time.Hour),
		State:          "xyz",
	}
	r, err := env.engine.ParseRequest(ctx, esr, nil, env.cookieHeader(t, "s1"))
	if err != nil {
		t.Fatal(err)
	}
	if r.SessionID != "s1" || r.ClientID != "rp1" || r.Subject != "alice" {
		t.Errorf("unexpected request: %+v", r)
	}
	if r.RedirectURI != "https://rp1/bye" {
		t.Errorf("expected first registered redirect uri, got %q", r.RedirectURI)
	}
	if r.State != "xyz" {
		t.Errorf("state not carried, got %q", r.State)
	}
}

func TestParseRequestHintOnlyPicksMostRecentSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)
	env.register(t, &clients.ClientRegistration{ID: "rp1"})
	env.register(t, &clients.ClientRegistration{ID: "rp2"})
	env.createSession(t, ctx, "old", "u1", "alice", "rp1", time.Hour)
	env.createSession(t, ctx, "new", "u1", "alice", "rp2", 0)

	esr := &payload.EndSessionRequest{
		RawIDTokenHint: env.idTokenHint(t, "alice", time.Hour),
	}
	r, err := env.engine.ParseRequest(ctx, esr, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if r.SessionID != "new" || r.ClientID != "rp2" {
		t.Errorf("expected most recent session, got %+v", r)
	}
}

func TestParseRequestHintWithoutSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)

	esr := &payload.EndSessionRequest{
		RawIDTokenHint: env.idTokenHint(t, "nobody", time.Hour),
	}
	_, err := env.engine.ParseRequest(ctx, esr, nil, "")
	expectKind(t, err, KindUnknownSession)
}

func TestParseRequestUnsupportedHintAlgorithm(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)

	hint, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testIssuer,
		"sub": "alice",
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.engine.ParseRequest(ctx, &payload.EndSessionRequest{RawIDTokenHint: hint}, nil, "")
	expectKind(t, err, KindUnsupportedSigningAlgorithm)
}

func TestParseRequestForeignHint(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)
	env.createSession(t, ctx, "s1", "u1", "alice", "rp1", 0)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	foreign := signing.NewManager(&signing.Config{Issuer: "https://other.example"})
	if err = foreign.AddSigningKey("foreign", key, nil); err != nil {
		t.Fatal(err)
	}
	hint, err := foreign.Sign(map[string]interface{}{"sub": "alice"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// ES256 is not supported by the provider.
	_, err = env.engine.ParseRequest(ctx, &payload.EndSessionRequest{RawIDTokenHint: hint}, nil, "")
	expectKind(t, err, KindUnsupportedSigningAlgorithm)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	foreign = signing.NewManager(&signing.Config{Issuer: "https://other.example"})
	if err = foreign.AddSigningKey("foreign", rsaKey, nil); err != nil {
		t.Fatal(err)
	}
	hint, err = foreign.Sign(map[string]interface{}{"sub": "alice"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.engine.ParseRequest(ctx, &payload.EndSessionRequest{RawIDTokenHint: hint}, nil, "")
	expectKind(t, err, KindMalformedRequest)
}

func TestParseRequestInvalidCookie(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)

	_, err := env.engine.ParseRequest(ctx, &payload.EndSessionRequest{}, nil, cookie.DefaultCookieName+"=garbage")
	expectKind(t, err, KindMalformedRequest)
}

func TestParseRequestRevokedSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)
	env.register(t, &clients.ClientRegistration{ID: "rp1"})
	env.createSession(t, ctx, "s1", "u1", "alice", "rp1", 0)
	if err := env.sessions.Revoke(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	_, err := env.engine.ParseRequest(ctx, &payload.EndSessionRequest{}, nil, env.cookieHeader(t, "s1"))
	expectKind(t, err, KindUnknownSession)
}

func TestParseRequestAnonymous(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)
	env.register(t, &clients.ClientRegistration{
		ID:                     "rp1",
		PostLogoutRedirectURIs: []string{"https://rp1/bye"},
	})

	r, err := env.engine.ParseRequest(ctx, &payload.EndSessionRequest{
		ClientID:                 "rp1",
		RawPostLogoutRedirectURI: "https://rp1/bye?from=test",
	}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if r.SessionID != "" || r.ClientID != "rp1" || r.RedirectURI != "https://rp1/bye?from=test" {
		t.Errorf("unexpected request: %+v", r)
	}

	_, err = env.engine.ParseRequest(ctx, &payload.EndSessionRequest{
		RawPostLogoutRedirectURI: "https://rp1/bye",
	}, nil, "")
	expectKind(t, err, KindUnregisteredRedirectURI)

	_, err = env.engine.ParseRequest(ctx, &payload.EndSessionRequest{
		RawPostLogoutRedirectURI: "/relative",
	}, nil, "")
	expectKind(t, err, KindMalformedRequest)
}

func TestResolveRedirect(t *testing.T) {
	env := newTestEnv(t, context.Background(), nil)
	client := &clients.ClientRegistration{
		ID: "rp1",
		PostLogoutRedirectURIs: []string{
			"https://rp1/bye?registered=1",
			"https://rp1/other",
		},
	}

	tests := []struct {
		client    *clients.ClientRegistration
		requested string
		expected  string
		kind      Kind
		fails     bool
	}{
		{client, "", "https://rp1/bye?registered=1", 0, false},
		{client, "https://rp1/bye?requested=2", "https://rp1/bye?requested=2", 0, false},
		{client, "https://RP1/bye", "https://RP1/bye", 0, false},
		{client, "https://rp1/other#frag", "https://rp1/other#frag", 0, false},
		{client, "https://rp1/unknown", "", KindUnregisteredRedirectURI, true},
		{client, "https://evil/bye", "", KindUnregisteredRedirectURI, true},
		{&clients.ClientRegistration{ID: "rp2"}, "", "", 0, false},
		{nil, "", "", 0, false},
		{nil, "https://rp1/bye", "", KindUnregisteredRedirectURI, true},
	}
	for idx, test := range tests {
		got, err := env.engine.ResolveRedirect(test.client, test.requested)
		if test.fails {
			if err == nil || KindOf(err) != test.kind {
				t.Errorf("%d: expected %s, got %v", idx, test.kind, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%d: unexpected error: %v", idx, err)
			continue
		}
		if got != test.expected {
			t.Errorf("%d: expected %q, got %q", idx, test.expected, got)
		}
	}
}

func TestConfirmationRoundTrip(t *testing.T) {
	env := newTestEnv(t, context.Background(), nil)

	r := &Request{
		SessionID:   "s1",
		ClientID:    "rp1",
		RedirectURI: "https://rp1/bye",
		State:       "abc",
	}
	token, err := env.engine.IssueConfirmation(r)
	if err != nil {
		t.Fatal(err)
	}

	c, err := env.engine.ResumeFromConfirmation(token)
	if err != nil {
		t.Fatal(err)
	}
	if c.SessionID != r.SessionID || c.ClientID != r.ClientID || c.RedirectURI != r.RedirectURI || c.State != r.State {
		t.Errorf("confirmation content changed: %+v", c)
	}
}

func TestConfirmationTamperRejected(t *testing.T) {
	env := newTestEnv(t, context.Background(), nil)

	token, err := env.engine.IssueConfirmation(&Request{SessionID: "s1", ClientID: "rp1"})
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(token, ".")
	raw, err := jwt.DecodeSegment(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	claims := map[string]interface{}{}
	if err = json.Unmarshal(raw, &claims); err != nil {
		t.Fatal(err)
	}
	claims["sid"] = "s2"
	raw, _ = json.Marshal(claims)
	parts[1] = jwt.EncodeSegment(raw)

	_, err = env.engine.ResumeFromConfirmation(strings.Join(parts, "."))
	expectKind(t, err, KindSignatureVerificationFailure)

	_, err = env.engine.ResumeFromConfirmation("not-a-token")
	expectKind(t, err, KindSignatureVerificationFailure)
}

func TestConfirmationTypeAndExpiry(t *testing.T) {
	env := newTestEnv(t, context.Background(), nil)

	// Same issuer and audience, but not a confirmation.
	token, err := env.tokens.Sign(map[string]interface{}{
		oidc.SessionIDClaim: "s1",
	}, &signing.SignOptions{
		Audience: testIssuer,
		Lifetime: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.engine.ResumeFromConfirmation(token)
	expectKind(t, err, KindSignatureVerificationFailure)

	expired := newTestEnv(t, context.Background(), func(c *Config) {
		c.ConfirmationLifetime = -time.Minute
	})
	token, err = expired.engine.IssueConfirmation(&Request{SessionID: "s1", ClientID: "rp1"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = expired.engine.ResumeFromConfirmation(token)
	expectKind(t, err, KindSignatureVerificationFailure)
}

func TestSelectChannelPriority(t *testing.T) {
	env := newTestEnv(t, context.Background(), nil)

	tests := []struct {
		client   *clients.ClientRegistration
		expected Channel
	}{
		{
			&clients.ClientRegistration{ID: "none"},
			NoChannel{},
		},
		{
			&clients.ClientRegistration{ID: "front", FrontChannelLogoutURI: "https://rp/front", FrontChannelLogoutSessionRequired: true},
			FrontChannel{URI: "https://rp/front", SessionRequired: true},
		},
		{
			&clients.ClientRegistration{ID: "back", BackChannelLogoutURI: "https://rp/back"},
			BackChannel{URI: "https://rp/back", Alg: "RS256"},
		},
		{
			&clients.ClientRegistration{ID: "both", FrontChannelLogoutURI: "https://rp/front", BackChannelLogoutURI: "https://rp/back"},
			BackChannel{URI: "https://rp/back", Alg: "RS256"},
		},
		{
			&clients.ClientRegistration{ID: "alg", BackChannelLogoutURI: "https://rp/back", RawIDTokenSignedResponseAlg: "ES512"},
			BackChannel{URI: "https://rp/back", Alg: "RS256"},
		},
	}
	for _, test := range tests {
		if got := env.engine.SelectChannel(test.client); got != test.expected {
			t.Errorf("%s: expected %#v, got %#v", test.client.ID, test.expected, got)
		}
	}
}

func TestFrontChannelIframe(t *testing.T) {
	tests := []struct {
		channel  FrontChannel
		expected string
	}{
		{
			FrontChannel{URI: "https://rp1/logout"},
			`<iframe src="https://rp1/logout">`,
		},
		{
			FrontChannel{URI: "https://rp1/logout?a=b", SessionRequired: true},
			`<iframe src="https://rp1/logout?a=b&iss=` + url.QueryEscape(testIssuer) + `&sid=s%3C1%3E">`,
		},
	}
	for _, test := range tests {
		got, err := FrontChannelIframe(testIssuer, test.channel, "s<1>")
		if err != nil {
			t.Fatal(err)
		}
		if got != test.expected {
			t.Errorf("expected %s, got %s", test.expected, got)
		}
	}

	if _, err := FrontChannelIframe(testIssuer, FrontChannel{URI: "/relative"}, "s1"); err == nil {
		t.Error("expected error for relative uri")
	}

	got, err := FrontChannelIframe(testIssuer, FrontChannel{URI: "https://rp1/logout#top", SessionRequired: true}, "")
	if err != nil {
		t.Fatal(err)
	}
	expected := `<iframe src="https://rp1/logout?iss=` + url.QueryEscape(testIssuer) + `#top">`
	if got != expected {
		t.Errorf("expected %s, got %s", expected, got)
	}
}

func TestExecuteLogoutFrontChannelIframe(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)
	env.register(t, &clients.ClientRegistration{
		ID:                                "rp1",
		FrontChannelLogoutURI:             "https://rp1/logout",
		FrontChannelLogoutSessionRequired: true,
	})
	env.createSession(t, ctx, "s1", "u1", "alice", "rp1", 0)

	outcome, err := env.engine.ExecuteLogout(ctx, "s1", "rp1", SingleClient)
	if err != nil {
		t.Fatal(err)
	}

	expected := `<iframe src="https://rp1/logout?iss=` + url.QueryEscape(testIssuer) + `&sid=s1">`
	if len(outcome.FrontChannelIframes) != 1 || outcome.FrontChannelIframes[0] != expected {
		t.Fatalf("expected [%s], got %v", expected, outcome.FrontChannelIframes)
	}
	if len(outcome.Deliveries) != 0 {
		t.Errorf("unexpected deliveries: %v", outcome.Deliveries)
	}
}

type backChannelRecorder struct {
	mutex    sync.Mutex
	tokens   []string
	sessions []bool
}

func (rec *backChannelRecorder) handler(status int, sessions session.Store, sid string) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		_ = req.ParseForm()
		_, err := sessions.Get(req.Context(), sid)

		rec.mutex.Lock()
		rec.tokens = append(rec.tokens, req.PostForm.Get(oidc.ParamLogoutToken))
		rec.sessions = append(rec.sessions, err == nil)
		rec.mutex.Unlock()

		rw.WriteHeader(status)
	}
}

func TestExecuteLogoutPartialFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)

	failing := &backChannelRecorder{}
	failingServer := httptest.NewServer(failing.handler(http.StatusInternalServerError, env.sessions, "s1"))
	defer failingServer.Close()
	working := &backChannelRecorder{}
	workingServer := httptest.NewServer(working.handler(http.StatusOK, env.sessions, "s2"))
	defer workingServer.Close()

	env.register(t, &clients.ClientRegistration{ID: "rp-a", Insecure: true, BackChannelLogoutURI: failingServer.URL + "/logout"})
	env.register(t, &clients.ClientRegistration{ID: "rp-b", Insecure: true, BackChannelLogoutURI: workingServer.URL + "/logout"})
	env.register(t, &clients.ClientRegistration{ID: "rp-c", FrontChannelLogoutURI: "https://rp-c/logout"})
	env.register(t, &clients.ClientRegistration{ID: "rp-d", FrontChannelLogoutURI: "https://rp-d/logout"})
	env.createSession(t, ctx, "s1", "u1", "alice", "rp-a", 0)
	env.createSession(t, ctx, "s2", "u1", "alice", "rp-b", time.Minute)
	env.createSession(t, ctx, "s3", "u1", "alice", "rp-c", 2*time.Minute)
	env.createSession(t, ctx, "s4", "u1", "alice", "rp-d", 3*time.Minute)

	outcome, err := env.engine.ExecuteLogout(ctx, "s1", "rp-a", AllClients)
	if err != nil {
		t.Fatal(err)
	}

	if len(failing.tokens) != 1 || len(working.tokens) != 1 {
		t.Fatalf("expected one delivery per party, got %d and %d", len(failing.tokens), len(working.tokens))
	}
	if len(outcome.Deliveries) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(outcome.Deliveries))
	}
	for _, delivery := range outcome.Deliveries {
		switch delivery.ClientID {
		case "rp-a":
			expectKind(t, delivery.Err, KindDeliveryFailure)
		case "rp-b":
			if delivery.Err != nil {
				t.Errorf("unexpected delivery error: %v", delivery.Err)
			}
		default:
			t.Errorf("unexpected delivery to %s", delivery.ClientID)
		}
	}
	expectedIframes := []string{
		`<iframe src="https://rp-c/logout">`,
		`<iframe src="https://rp-d/logout">`,
	}
	if strings.Join(outcome.FrontChannelIframes, "\n") != strings.Join(expectedIframes, "\n") {
		t.Errorf("expected iframes %v, got %v", expectedIframes, outcome.FrontChannelIframes)
	}

	claims := &oidc.LogoutTokenClaims{}
	if _, err = env.tokens.Verify(working.tokens[0], claims, &signing.VerifyOptions{Audience: "rp-b"}); err != nil {
		t.Fatalf("logout token did not verify: %v", err)
	}
	if claims.SessionID != "s2" || claims.Subject != "alice" || claims.Id == "" {
		t.Errorf("unexpected logout token claims: %+v", claims)
	}
	if _, ok := claims.Events[oidc.BackChannelLogoutEvent]; !ok {
		t.Errorf("logout token without back-channel event")
	}

	result, err := env.engine.Finalize(ctx, outcome, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if result.RedirectTarget != testIssuer {
		t.Errorf("expected issuer as redirect target, got %q", result.RedirectTarget)
	}
	for _, sid := range []string{"s1", "s2", "s3", "s4"} {
		if _, err = env.sessions.Get(ctx, sid); err != session.ErrNotFound {
			t.Errorf("expected %s to be revoked, got %v", sid, err)
		}
	}
}

func TestExecuteLogoutSkipsUnknownClient(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)
	env.createSession(t, ctx, "s1", "u1", "alice", "gone", 0)

	outcome, err := env.engine.ExecuteLogout(ctx, "s1", "gone", SingleClient)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcome.FrontChannelIframes) != 0 || len(outcome.Deliveries) != 0 {
		t.Errorf("unexpected notifications: %+v", outcome)
	}
	if len(outcome.SessionIDs) != 1 || outcome.SessionIDs[0] != "s1" {
		t.Errorf("expected s1 to be revoked, got %v", outcome.SessionIDs)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, func(c *Config) {
		c.PostLogoutPage = "https://issuer.example/goodbye"
	})
	env.createSession(t, ctx, "s1", "u1", "alice", "rp1", 0)

	outcome := &Outcome{SessionIDs: []string{"s1"}}
	for i := 0; i < 2; i++ {
		result, err := env.engine.Finalize(ctx, outcome, "", "")
		if err != nil {
			t.Fatalf("finalize %d failed: %v", i, err)
		}
		if result.RedirectTarget != "https://issuer.example/goodbye" {
			t.Errorf("expected post logout page, got %q", result.RedirectTarget)
		}
	}

	result, err := env.engine.Finalize(ctx, outcome, "https://rp1/bye?x=1", "a b")
	if err != nil {
		t.Fatal(err)
	}
	if result.RedirectTarget != "https://rp1/bye?x=1&state=a%20b" {
		t.Errorf("unexpected redirect target %q", result.RedirectTarget)
	}
}

func TestFinalizeStateBeforeFragment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)
	client := &clients.ClientRegistration{
		ID:                     "rp1",
		PostLogoutRedirectURIs: []string{"https://rp1/other"},
	}

	redirectURI, err := env.engine.ResolveRedirect(client, "https://rp1/other#frag")
	if err != nil {
		t.Fatal(err)
	}
	result, err := env.engine.Finalize(ctx, &Outcome{}, redirectURI, "st")
	if err != nil {
		t.Fatal(err)
	}
	if result.RedirectTarget != "https://rp1/other?state=st#frag" {
		t.Errorf("unexpected redirect target %q", result.RedirectTarget)
	}
}

func TestLogoutRevokesAfterDispatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)

	rec := &backChannelRecorder{}
	server := httptest.NewServer(rec.handler(http.StatusOK, env.sessions, "s1"))
	defer server.Close()

	env.register(t, &clients.ClientRegistration{ID: "rp1", Insecure: true, BackChannelLogoutURI: server.URL})
	env.createSession(t, ctx, "s1", "u1", "alice", "rp1", 0)

	token, err := env.engine.IssueConfirmation(&Request{SessionID: "s1", ClientID: "rp1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = env.engine.Logout(ctx, token, SingleClient); err != nil {
		t.Fatal(err)
	}

	if len(rec.sessions) != 1 || !rec.sessions[0] {
		t.Fatalf("session was not live during delivery: %v", rec.sessions)
	}
	if _, err = env.sessions.Get(ctx, "s1"); err != session.ErrNotFound {
		t.Errorf("expected session to be revoked, got %v", err)
	}
}

func newScopeEnv(t *testing.T, ctx context.Context) *testEnv {
	env := newTestEnv(t, ctx, nil)
	env.register(t, &clients.ClientRegistration{ID: "rp1", FrontChannelLogoutURI: "https://rp1/logout", PostLogoutRedirectURIs: []string{"https://rp1/bye"}})
	env.register(t, &clients.ClientRegistration{ID: "rp2", FrontChannelLogoutURI: "https://rp2/logout"})
	env.createSession(t, ctx, "s1", "u1", "alice", "rp1", 0)
	env.createSession(t, ctx, "s2", "u1", "alice", "rp2", time.Minute)
	env.createSession(t, ctx, "s3", "u2", "bob", "rp1", 0)
	return env
}

func TestLogoutAllClientsRevokesEverySession(t *testing.T) {
	ctx := context.Background()
	env := newScopeEnv(t, ctx)

	token, err := env.engine.IssueConfirmation(&Request{SessionID: "s1", ClientID: "rp1", RedirectURI: "https://rp1/bye", State: "st"})
	if err != nil {
		t.Fatal(err)
	}
	result, err := env.engine.Logout(ctx, token, AllClients)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.FrontChannelIframes) != 2 {
		t.Errorf("expected iframes for both clients, got %v", result.FrontChannelIframes)
	}
	if result.RedirectTarget != "https://rp1/bye?state=st" {
		t.Errorf("unexpected redirect target %q", result.RedirectTarget)
	}
	for _, sid := range []string{"s1", "s2"} {
		if _, err = env.sessions.Get(ctx, sid); err != session.ErrNotFound {
			t.Errorf("expected %s to be revoked, got %v", sid, err)
		}
	}
	if _, err = env.sessions.Get(ctx, "s3"); err != nil {
		t.Errorf("session of other user was touched: %v", err)
	}
}

func TestLogoutSingleClientRevokesOnlyOrigin(t *testing.T) {
	ctx := context.Background()
	env := newScopeEnv(t, ctx)

	token, err := env.engine.IssueConfirmation(&Request{SessionID: "s1", ClientID: "rp1"})
	if err != nil {
		t.Fatal(err)
	}
	result, err := env.engine.Logout(ctx, token, SingleClient)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.FrontChannelIframes) != 1 || result.FrontChannelIframes[0] != `<iframe src="https://rp1/logout">` {
		t.Errorf("unexpected iframes: %v", result.FrontChannelIframes)
	}
	if _, err = env.sessions.Get(ctx, "s1"); err != session.ErrNotFound {
		t.Errorf("expected s1 to be revoked, got %v", err)
	}
	if _, err = env.sessions.Get(ctx, "s2"); err != nil {
		t.Errorf("expected s2 to stay live, got %v", err)
	}
}

type faultyStore struct {
	session.Store
	indexErr error
}

func (s *faultyStore) Revoke(ctx context.Context, sid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.Revoke(ctx, sid)
}

func (s *faultyStore) SessionIDsByUserID(ctx context.Context, uid string) ([]string, error) {
	if s.indexErr != nil {
		return nil, s.indexErr
	}
	return s.Store.SessionIDsByUserID(ctx, uid)
}

func TestLogoutCompletesWhenCallerIsCanceled(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, func(c *Config) {
		c.SessionStore = &faultyStore{Store: c.SessionStore}
	})

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		cancel()
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	env.register(t, &clients.ClientRegistration{ID: "rp1", Insecure: true, BackChannelLogoutURI: server.URL})
	env.createSession(t, ctx, "s1", "u1", "alice", "rp1", 0)

	token, err := env.engine.IssueConfirmation(&Request{SessionID: "s1", ClientID: "rp1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = env.engine.Logout(reqCtx, token, SingleClient); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	if reqCtx.Err() == nil {
		t.Fatal("expected caller context to be canceled during delivery")
	}
	if _, err = env.sessions.Get(ctx, "s1"); err != session.ErrNotFound {
		t.Errorf("expected s1 to be revoked, got %v", err)
	}
}

func TestLogoutAllClientsIndexFailureRevokesOrigin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, func(c *Config) {
		c.SessionStore = &faultyStore{Store: c.SessionStore, indexErr: errors.New("index unavailable")}
	})
	env.register(t, &clients.ClientRegistration{ID: "rp1", FrontChannelLogoutURI: "https://rp1/logout"})
	env.register(t, &clients.ClientRegistration{ID: "rp2", FrontChannelLogoutURI: "https://rp2/logout"})
	env.createSession(t, ctx, "s1", "u1", "alice", "rp1", 0)
	env.createSession(t, ctx, "s2", "u1", "alice", "rp2", time.Minute)

	token, err := env.engine.IssueConfirmation(&Request{SessionID: "s1", ClientID: "rp1"})
	if err != nil {
		t.Fatal(err)
	}
	result, err := env.engine.Logout(ctx, token, AllClients)
	if err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	if len(result.FrontChannelIframes) != 1 || result.FrontChannelIframes[0] != `<iframe src="https://rp1/logout">` {
		t.Errorf("expected origin iframe only, got %v", result.FrontChannelIframes)
	}
	if _, err = env.sessions.Get(ctx, "s1"); err != session.ErrNotFound {
		t.Errorf("expected originating session to be revoked, got %v", err)
	}
}

func TestExecuteLogoutHungEndpoint(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, func(c *Config) {
		c.BackChannelClient = &http.Client{Timeout: 200 * time.Millisecond}
	})

	release := make(chan struct{})
	hung := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		select {
		case <-release:
		case <-req.Context().Done():
		}
	}))
	defer hung.Close()
	defer close(release)
	working := &backChannelRecorder{}
	workingServer := httptest.NewServer(working.handler(http.StatusOK, env.sessions, "s2"))
	defer workingServer.Close()

	env.register(t, &clients.ClientRegistration{ID: "rp-a", Insecure: true, BackChannelLogoutURI: hung.URL})
	env.register(t, &clients.ClientRegistration{ID: "rp-b", Insecure: true, BackChannelLogoutURI: workingServer.URL})
	env.createSession(t, ctx, "s1", "u1", "alice", "rp-a", 0)
	env.createSession(t, ctx, "s2", "u1", "alice", "rp-b", time.Minute)

	started := time.Now()
	outcome, err := env.engine.ExecuteLogout(ctx, "s1", "rp-a", AllClients)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Errorf("hung endpoint blocked logout for %v", elapsed)
	}

	if len(working.tokens) != 1 {
		t.Errorf("expected working party to be notified once, got %d", len(working.tokens))
	}
	for _, delivery := range outcome.Deliveries {
		switch delivery.ClientID {
		case "rp-a":
			expectKind(t, delivery.Err, KindDeliveryFailure)
		case "rp-b":
			if delivery.Err != nil {
				t.Errorf("unexpected delivery error: %v", delivery.Err)
			}
		}
	}

	if _, err = env.engine.Finalize(ctx, outcome, "", ""); err != nil {
		t.Fatal(err)
	}
	for _, sid := range []string{"s1", "s2"} {
		if _, err = env.sessions.Get(ctx, sid); err != session.ErrNotFound {
			t.Errorf("expected %s to be revoked, got %v", sid, err)
		}
	}
}

func TestExecuteLogoutPrefersBackChannel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)

	rec := &backChannelRecorder{}
	server := httptest.NewServer(rec.handler(http.StatusOK, env.sessions, "s1"))
	defer server.Close()

	env.register(t, &clients.ClientRegistration{
		ID:                    "rp1",
		Insecure:              true,
		BackChannelLogoutURI:  server.URL,
		FrontChannelLogoutURI: "https://rp1/logout",
	})
	env.createSession(t, ctx, "s1", "u1", "alice", "rp1", 0)

	outcome, err := env.engine.ExecuteLogout(ctx, "s1", "rp1", SingleClient)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.tokens) != 1 {
		t.Errorf("expected one back-channel POST, got %d", len(rec.tokens))
	}
	if len(outcome.FrontChannelIframes) != 0 {
		t.Errorf("expected no iframes, got %v", outcome.FrontChannelIframes)
	}
}

func TestBackChannelRedirectIsNotDelivered(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ctx, nil)

	target := &backChannelRecorder{}
	targetServer := httptest.NewServer(target.handler(http.StatusOK, env.sessions, "s1"))
	defer targetServer.Close()
	redirecting := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		http.Redirect(rw, req, targetServer.URL, http.StatusFound)
	}))
	defer redirecting.Close()

	env.register(t, &clients.ClientRegistration{ID: "rp1", Insecure: true, BackChannelLogoutURI: redirecting.URL})
	env.createSession(t, ctx, "s1", "u1", "alice", "rp1", 0)

	outcome, err := env.engine.ExecuteLogout(ctx, "s1", "rp1", SingleClient)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcome.Deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(outcome.Deliveries))
	}
	expectKind(t, outcome.Deliveries[0].Err, KindDeliveryFailure)
	if len(target.tokens) != 0 {
		t.Errorf("redirect was followed")
	}
}
