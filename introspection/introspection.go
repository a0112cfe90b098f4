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
	"errors"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/klogout/identity/users"
	"stash.kopano.io/kc/klogout/oidc"
	"stash.kopano.io/kc/klogout/oidc/payload"
	"stash.kopano.io/kc/klogout/signing"
)

// TokenVerifier verifies tokens issued by the provider.
type TokenVerifier interface {
	Verify(tokenString string, claims jwt.Claims, opts *signing.VerifyOptions) (*jwt.Token, error)
}

// Config defines an Introspector's configuration settings.
type Config struct {
	Tokens TokenVerifier
	Users  users.Directory

	// ReleaseUsername enables the username member of introspection
	// responses. It requires Users.
	ReleaseUsername bool

	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// Introspector answers token introspection requests.
type Introspector struct {
	tokens          TokenVerifier
	users           users.Directory
	releaseUsername bool

	logger  logrus.FieldLogger
	metrics *Metrics
}

// New creates a new Introspector with the provided Config.
func New(c *Config) *Introspector {
	i := &Introspector{
		tokens:          c.Tokens,
		users:           c.Users,
		releaseUsername: c.ReleaseUsername && c.Users != nil,

		logger:  c.Logger,
		metrics: c.Metrics,
	}
	if i.metrics == nil {
		i.metrics = NewMetrics(nil)
	}

	return i
}

// Introspect returns the introspection response for the provided token. It
// never fails. Tokens which cannot be verified, are expired or cannot be
// enriched as configured are reported as inactive.
func (i *Introspector) Introspect(ctx context.Context, token string) *payload.IntrospectionResponse {
	response, err := i.introspect(ctx, token)
	if err != nil {
		i.logger.WithError(err).Debugln("introspection token inactive")
		i.metrics.answers.WithLabelValues("inactive").Inc()
		return payload.Inactive()
	}

	i.metrics.answers.WithLabelValues("active").Inc()
	return response
}

func (i *Introspector) introspect(ctx context.Context, token string) (*payload.IntrospectionResponse, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}

	claims := jwt.MapClaims{}
	// Time based claims are checked below.
	_, err := i.tokens.Verify(token, claims, &signing.VerifyOptions{
		SkipClaimsValidation: true,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	if !claims.VerifyExpiresAt(now, false) {
		return nil, errors.New("token is expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, errors.New("token is not valid yet")
	}
	if isConfirmation, _ := claims[oidc.IsLogoutConfirmationClaim].(bool); isConfirmation {
		return nil, errors.New("logout confirmations are not introspectable")
	}
	if _, ok := claims[oidc.EventsClaim]; ok {
		return nil, errors.New("logout tokens are not introspectable")
	}

	response := &payload.IntrospectionResponse{
		Active:    true,
		Scope:     stringClaim(claims, oidc.ScopeClaim),
		ClientID:  stringClaim(claims, oidc.ClientIDClaim),
		ExpiresAt: int64Claim(claims, oidc.ExpirationClaim),
		IssuedAt:  int64Claim(claims, oidc.IssuedAtClaim),
		NotBefore: int64Claim(claims, oidc.NotBeforeClaim),
		Subject:   stringClaim(claims, oidc.SubjectIdentifierClaim),
		Audience:  audienceClaim(claims),
		Issuer:    stringClaim(claims, oidc.IssuerIdentifierClaim),
		JWTID:     stringClaim(claims, oidc.JWTIDClaim),
	}
	if response.ClientID == "" {
		response.ClientID = stringClaim(claims, oidc.AuthorizedPartyClaim)
	}

	if i.releaseUsername {
		if response.Subject == "" {
			return nil, errors.New("username requested for token without subject")
		}
		username, lookupErr := i.users.Username(ctx, response.Subject)
		if lookupErr != nil {
			return nil, lookupErr
		}
		response.Username = username
	}

	return response, nil
}

func stringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

func int64Claim(claims jwt.MapClaims, name string) int64 {
	switch v := claims[name].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

func audienceClaim(claims jwt.MapClaims) string {
	switch aud := claims[oidc.AudienceClaim].(type) {
	case string:
		return aud
	case []interface{}:
		values := make([]string, 0, len(aud))
		for _, v := range aud {
			if s, ok := v.(string); ok {
				values = append(values, s)
			}
		}
		return strings.Join(values, " ")
	}
	return ""
}
