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

package clientauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgrijalva/jwt-go"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/klogout/identity/clients"
	"stash.kopano.io/kc/klogout/oidc"
)

// Errors returned by the Authenticator.
var (
	// ErrUnknownOrNoAuthnMethod is returned when a request carries no or no
	// recognized client authentication.
	ErrUnknownOrNoAuthnMethod = errors.New("unknown or no client authentication method")
)

// AuthenticationError is returned when client authentication was attempted
// and failed.
type AuthenticationError struct {
	ClientID string
	Method   string
	Err      error
}

// Error implements the error interface.
func (err *AuthenticationError) Error() string {
	return fmt.Sprintf("client authentication with %s failed: %v", err.Method, err.Err)
}

// Unwrap returns the underlying error.
func (err *AuthenticationError) Unwrap() error {
	return err.Err
}

// ClientRegistry looks up client registrations.
type ClientRegistry interface {
	Get(ctx context.Context, clientID string) (*clients.ClientRegistration, bool)
}

// Config defines an Authenticator's configuration settings.
type Config struct {
	Clients ClientRegistry

	// Audiences lists the accepted aud values of client assertions, usually
	// the issuer identifier and endpoint URLs.
	Audiences []string

	Logger logrus.FieldLogger
}

// Authenticator authenticates clients.
type Authenticator struct {
	clients   ClientRegistry
	audiences []string

	logger logrus.FieldLogger
}

// New creates a new Authenticator with the provided Config.
func New(c *Config) *Authenticator {
	return &Authenticator{
		clients:   c.Clients,
		audiences: c.Audiences,

		logger: c.Logger,
	}
}

// Authenticate authenticates the client with the provided credentials and
// returns its registration. Returns ErrUnknownOrNoAuthnMethod if the
// credentials carry no usable authentication method and an
// *AuthenticationError if authentication failed.
func (a *Authenticator) Authenticate(ctx context.Context, creds *Credentials) (*clients.ClientRegistration, error) {
	if creds == nil || creds.Method == "" {
		return nil, ErrUnknownOrNoAuthnMethod
	}
	if creds.err != nil {
		return nil, a.failed(creds, creds.err)
	}

	var registration *clients.ClientRegistration
	var err error
	switch creds.Method {
	case oidc.AuthMethodClientSecretBasic, oidc.AuthMethodClientSecretPost:
		registration, err = a.authenticateSecret(ctx, creds)
	case oidc.AuthMethodPrivateKeyJWT, oidc.AuthMethodClientSecretJWT:
		if creds.ClientAssertionType != oidc.ClientAssertionTypeJWTBearer {
			return nil, ErrUnknownOrNoAuthnMethod
		}
		registration, err = a.authenticateAssertion(ctx, creds)
	default:
		return nil, ErrUnknownOrNoAuthnMethod
	}
	if err != nil {
		return nil, a.failed(creds, err)
	}

	if registration.RawTokenEndpointAuthMethod != "" && registration.RawTokenEndpointAuthMethod != creds.Method {
		return nil, a.failed(creds, fmt.Errorf("client requires %s", registration.RawTokenEndpointAuthMethod))
	}

	a.logger.WithFields(logrus.Fields{
		"client_id": registration.ID,
		"method":    creds.Method,
	}).Debugln("client authenticated")

	return registration, nil
}

func (a *Authenticator) failed(creds *Credentials, err error) error {
	a.logger.WithError(err).WithFields(logrus.Fields{
		"client_id": creds.ClientID,
		"method":    creds.Method,
	}).Debugln("client authentication failed")

	return &AuthenticationError{
		ClientID: creds.ClientID,
		Method:   creds.Method,
		Err:      err,
	}
}

func (a *Authenticator) authenticateSecret(ctx context.Context, creds *Credentials) (*clients.ClientRegistration, error) {
	registration, ok := a.clients.Get(ctx, creds.ClientID)
	if !ok {
		return nil, errors.New("unknown client")
	}
	if err := registration.ValidateSecret(creds.ClientSecret); err != nil {
		return nil, err
	}

	return registration, nil
}

func (a *Authenticator) authenticateAssertion(ctx context.Context, creds *Credentials) (*clients.ClientRegistration, error) {
	var registration *clients.ClientRegistration

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(creds.ClientAssertion, claims, func(token *jwt.Token) (interface{}, error) {
		iss, _ := claims["iss"].(string)
		sub, _ := claims["sub"].(string)
		if iss == "" || iss != sub {
			return nil, errors.New("iss and sub must both be the client_id")
		}
		if creds.ClientID != "" && creds.ClientID != iss {
			return nil, errors.New("client_id mismatch")
		}

		var ok bool
		registration, ok = a.clients.Get(ctx, iss)
		if !ok {
			return nil, errors.New("unknown client")
		}
		if alg := registration.RawTokenEndpointAuthSigningAlg; alg != "" && alg != token.Method.Alg() {
			return nil, fmt.Errorf("client requires %s", alg)
		}

		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if registration.Secret == "" {
				return nil, errors.New("no secret registered")
			}
			creds.Method = oidc.AuthMethodClientSecretJWT
			return []byte(registration.Secret), nil
		case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS, *jwt.SigningMethodECDSA:
			creds.Method = oidc.AuthMethodPrivateKeyJWT
			_, key, keyErr := registration.PublicKey(token.Header["kid"])
			return key, keyErr
		default:
			return nil, fmt.Errorf("unsupported assertion alg: %s", token.Method.Alg())
		}
	})
	if err != nil {
		return nil, err
	}

	if _, ok := claims["exp"]; !ok {
		return nil, errors.New("assertion without exp")
	}
	if !a.isForMe(claims["aud"]) {
		return nil, errors.New("assertion not for me")
	}
	creds.ClientID = registration.ID

	return registration, nil
}

func (a *Authenticator) isForMe(aud interface{}) bool {
	var values []string
	switch v := aud.(type) {
	case string:
		values = []string{v}
	case []interface{}:
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				values = append(values, s)
			}
		}
	}

	for _, value := range values {
		for _, accepted := range a.audiences {
			if strings.TrimSuffix(value, "/") == strings.TrimSuffix(accepted, "/") {
				return true
			}
		}
	}

	return false
}
