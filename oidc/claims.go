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

package oidc

import (
	"errors"

	"github.com/dgrijalva/jwt-go"
)

// Standard claims as used in JSON Web Tokens.
const (
	IssuerIdentifierClaim  = "iss"
	SubjectIdentifierClaim = "sub"
	AudienceClaim          = "aud"
	ExpirationClaim        = "exp"
	IssuedAtClaim          = "iat"
	NotBeforeClaim         = "nbf"
	JWTIDClaim             = "jti"
	SessionIDClaim         = "sid"
	AuthorizedPartyClaim   = "azp"
	EventsClaim            = "events"
	ClientIDClaim          = "client_id"
	ScopeClaim             = "scope"
)

// Claims used by confirmation tokens.
const (
	IsLogoutConfirmationClaim = "kc.isLogoutConfirmation"
	RedirectURIClaim          = "redirect_uri"
	StateClaim                = "state"
)

// IDTokenClaims define the claims found in OIDC ID Tokens which are relevant
// when an ID Token is used as hint.
type IDTokenClaims struct {
	AuthorizedParty string `json:"azp,omitempty"`
	jwt.StandardClaims
	*SessionClaims
}

// Valid implements the jwt.Claims interface.
func (c IDTokenClaims) Valid() error {
	return c.StandardClaims.Valid()
}

// SessionID returns the session id claim value or an empty string.
func (c *IDTokenClaims) SessionID() string {
	if c.SessionClaims == nil {
		return ""
	}
	return c.SessionClaims.SessionID
}

// SessionClaims define claims related to front end sessions, for example as
// specified by https://openid.net/specs/openid-connect-frontchannel-1_0.html
type SessionClaims struct {
	SessionID string `json:"sid,omitempty"`
}

// Valid implements the jwt.Claims interface.
func (c SessionClaims) Valid() error {
	return nil
}

// LogoutTokenClaims define the claims of a back-channel logout token as
// specified at https://openid.net/specs/openid-connect-backchannel-1_0.html#LogoutToken
type LogoutTokenClaims struct {
	jwt.StandardClaims
	SessionID string              `json:"sid,omitempty"`
	Events    map[string]struct{} `json:"events"`
}

// Valid implements the jwt.Claims interface.
func (c LogoutTokenClaims) Valid() error {
	if err := c.StandardClaims.Valid(); err != nil {
		return err
	}
	if _, ok := c.Events[BackChannelLogoutEvent]; !ok {
		return errors.New("logout event missing")
	}
	if c.Subject == "" && c.SessionID == "" {
		return errors.New("neither sub nor sid present")
	}
	return nil
}

// ConfirmationClaims define the claims of the self issued token which carries
// a validated end session request through the user confirmation step.
type ConfirmationClaims struct {
	jwt.StandardClaims
	SessionID      string `json:"sid"`
	ClientID       string `json:"client_id"`
	RedirectURI    string `json:"redirect_uri"`
	State          string `json:"state,omitempty"`
	IsConfirmation bool   `json:"kc.isLogoutConfirmation"`
}

// Valid implements the jwt.Claims interface.
func (c ConfirmationClaims) Valid() error {
	if err := c.StandardClaims.Valid(); err != nil {
		return err
	}
	if !c.IsConfirmation {
		return errors.New("not a logout confirmation")
	}
	return nil
}
