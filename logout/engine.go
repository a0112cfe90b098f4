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
	"errors"
	"net/http"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/klogout/clientauth"
	"stash.kopano.io/kc/klogout/cookie"
	"stash.kopano.io/kc/klogout/identity/clients"
	"stash.kopano.io/kc/klogout/session"
	"stash.kopano.io/kc/klogout/signing"
)

// Defaults used when the Config leaves a value empty.
const (
	DefaultConfirmationLifetime  = 24 * time.Hour
	DefaultLogoutTokenLifetime   = 24 * time.Hour
	DefaultMaxParallelDeliveries = 8
	DefaultBackChannelTimeout    = 10 * time.Second
	DefaultLogoutTimeout         = 60 * time.Second
	DefaultRevocationTimeout     = 10 * time.Second
)

// ClientRegistry looks up client registrations.
type ClientRegistry interface {
	Get(ctx context.Context, clientID string) (*clients.ClientRegistration, bool)
}

// TokenService signs and verifies tokens of the provider.
type TokenService interface {
	Issuer() string
	SupportedAlgs() []string
	DefaultAlg() string
	IsSupportedAlg(alg string) bool
	Sign(payload map[string]interface{}, opts *signing.SignOptions) (string, error)
	Verify(tokenString string, claims jwt.Claims, opts *signing.VerifyOptions) (*jwt.Token, error)
}

// CookieDecoder decodes the session cookie from a Cookie header value.
type CookieDecoder interface {
	Decode(cookieHeader string) (*cookie.Info, error)
}

// ClientAuthenticator authenticates clients.
type ClientAuthenticator interface {
	Authenticate(ctx context.Context, creds *clientauth.Credentials) (*clients.ClientRegistration, error)
}

// Config defines an Engine's configuration settings.
type Config struct {
	SessionStore        session.Store
	Clients             ClientRegistry
	Tokens              TokenService
	Cookies             CookieDecoder
	ClientAuthenticator ClientAuthenticator

	ConfirmationLifetime   time.Duration
	ConfirmationSigningAlg string
	LogoutTokenLifetime    time.Duration

	// PostLogoutPage is the redirect target when a logout carries no
	// post_logout_redirect_uri. Defaults to the issuer.
	PostLogoutPage string

	BackChannelClient     *http.Client
	MaxParallelDeliveries int

	// LogoutTimeout bounds the notification of relying parties once a
	// logout was confirmed. It is not bound to the caller's context.
	LogoutTimeout time.Duration
	// RevocationTimeout bounds the revocation of sessions in Finalize.
	RevocationTimeout time.Duration

	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// Engine implements RP-Initiated Logout with front-channel and back-channel
// notification of relying parties.
type Engine struct {
	issuer string

	sessions            session.Store
	clients             ClientRegistry
	tokens              TokenService
	cookies             CookieDecoder
	clientAuthenticator ClientAuthenticator

	confirmationLifetime   time.Duration
	confirmationSigningAlg string
	logoutTokenLifetime    time.Duration
	postLogoutPage         string

	backChannelClient     *http.Client
	maxParallelDeliveries int
	logoutTimeout         time.Duration
	revocationTimeout     time.Duration

	logger  logrus.FieldLogger
	metrics *Metrics
}

// NewEngine creates a new Engine with the provided Config.
func NewEngine(c *Config) (*Engine, error) {
	switch {
	case c.SessionStore == nil:
		return nil, errors.New("session store is required")
	case c.Clients == nil:
		return nil, errors.New("client registry is required")
	case c.Tokens == nil:
		return nil, errors.New("token service is required")
	case c.Cookies == nil:
		return nil, errors.New("cookie decoder is required")
	case c.Logger == nil:
		return nil, errors.New("logger is required")
	}

	e := &Engine{
		issuer: c.Tokens.Issuer(),

		sessions:            c.SessionStore,
		clients:             c.Clients,
		tokens:              c.Tokens,
		cookies:             c.Cookies,
		clientAuthenticator: c.ClientAuthenticator,

		confirmationLifetime:   c.ConfirmationLifetime,
		confirmationSigningAlg: c.ConfirmationSigningAlg,
		logoutTokenLifetime:    c.LogoutTokenLifetime,
		postLogoutPage:         c.PostLogoutPage,

		backChannelClient:     c.BackChannelClient,
		maxParallelDeliveries: c.MaxParallelDeliveries,
		logoutTimeout:         c.LogoutTimeout,
		revocationTimeout:     c.RevocationTimeout,

		logger:  c.Logger,
		metrics: c.Metrics,
	}

	if e.issuer == "" {
		return nil, errors.New("token service has no issuer")
	}
	if e.confirmationLifetime == 0 {
		e.confirmationLifetime = DefaultConfirmationLifetime
	}
	if e.logoutTokenLifetime == 0 {
		e.logoutTokenLifetime = DefaultLogoutTokenLifetime
	}
	if e.confirmationSigningAlg == "" {
		e.confirmationSigningAlg = c.Tokens.DefaultAlg()
	}
	if !c.Tokens.IsSupportedAlg(e.confirmationSigningAlg) {
		return nil, errors.New("confirmation signing alg is not supported by token service")
	}
	if e.postLogoutPage == "" {
		e.postLogoutPage = e.issuer
	}
	if e.backChannelClient == nil {
		e.backChannelClient = &http.Client{
			Timeout: DefaultBackChannelTimeout,
		}
	}
	// Redirects are never followed, a 3xx is a failed delivery.
	backChannelClient := *e.backChannelClient
	backChannelClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	e.backChannelClient = &backChannelClient
	if e.logoutTimeout <= 0 {
		e.logoutTimeout = DefaultLogoutTimeout
	}
	if e.revocationTimeout <= 0 {
		e.revocationTimeout = DefaultRevocationTimeout
	}
	if e.maxParallelDeliveries <= 0 {
		e.maxParallelDeliveries = DefaultMaxParallelDeliveries
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}

	return e, nil
}

// Issuer returns the issuer identifier of the accociated Engine.
func (e *Engine) Issuer() string {
	return e.issuer
}
