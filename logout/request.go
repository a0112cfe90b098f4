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

	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/klogout/clientauth"
	"stash.kopano.io/kc/klogout/identity/clients"
	"stash.kopano.io/kc/klogout/oidc"
	"stash.kopano.io/kc/klogout/oidc/payload"
	"stash.kopano.io/kc/klogout/session"
	"stash.kopano.io/kc/klogout/signing"
)

// Request is a validated end session request.
type Request struct {
	// SessionID is empty for requests without any session.
	SessionID string
	Subject   string
	ClientID  string

	// RedirectURI is the validated post logout redirect URI or empty.
	RedirectURI string
	State       string

	Client        *clients.ClientRegistration
	Authenticated bool
}

// ParseRequest validates the provided end session request, authenticates the
// client if credentials are given and resolves the effective session by
// cross-checking the session cookie with the ID Token hint.
func (e *Engine) ParseRequest(ctx context.Context, esr *payload.EndSessionRequest, creds *clientauth.Credentials, cookieHeader string) (*Request, error) {
	r, err := e.parseRequest(ctx, esr, creds, cookieHeader)
	if err != nil {
		e.metrics.requests.WithLabelValues("request", KindOf(err).String()).Inc()
		return nil, err
	}
	e.metrics.requests.WithLabelValues("request", "ok").Inc()

	return r, nil
}

func (e *Engine) parseRequest(ctx context.Context, esr *payload.EndSessionRequest, creds *clientauth.Credentials, cookieHeader string) (*Request, error) {
	if err := esr.Validate(); err != nil {
		return nil, newError(KindMalformedRequest, err.Error(), nil)
	}

	r := &Request{
		State: esr.State,
	}

	// Client authentication is optional for this endpoint.
	if creds != nil && e.clientAuthenticator != nil {
		registration, err := e.clientAuthenticator.Authenticate(ctx, creds)
		switch {
		case err == nil:
			r.Client = registration
			r.ClientID = registration.ID
			r.Authenticated = true
		case errors.Is(err, clientauth.ErrUnknownOrNoAuthnMethod):
			// Proceed unauthenticated.
		default:
			return nil, newError(KindAuthenticationFailed, "client authentication failed", err)
		}
	}

	var sidFromCookie string
	info, err := e.cookies.Decode(cookieHeader)
	if err != nil {
		return nil, newError(KindMalformedRequest, "invalid session cookie", err)
	}
	if info != nil {
		sidFromCookie = info.SessionID
	}

	var sidFromHint string
	var hint *oidc.IDTokenClaims
	if esr.RawIDTokenHint != "" {
		hint, err = e.verifyIDTokenHint(esr.RawIDTokenHint)
		if err != nil {
			return nil, err
		}
		sids, lookupErr := e.sessions.SessionIDsBySubject(ctx, hint.Subject)
		if lookupErr != nil {
			return nil, newError(KindInternal, "session lookup failed", lookupErr)
		}
		if len(sids) == 0 {
			return nil, newError(KindUnknownSession, "no session for id_token_hint", nil)
		}
		sidFromHint = sids[0]
	}

	switch {
	case sidFromCookie != "" && sidFromHint != "":
		if sidFromCookie != sidFromHint {
			e.logger.WithFields(logrus.Fields{
				"sub": hint.Subject,
			}).Warnln("end session id_token_hint does not match session cookie")
			return nil, newError(KindSessionMismatch, "id_token_hint does not match session", nil)
		}
		r.SessionID = sidFromCookie
	case sidFromCookie != "":
		r.SessionID = sidFromCookie
	default:
		r.SessionID = sidFromHint
	}

	if r.SessionID != "" {
		s, getErr := e.sessions.Get(ctx, r.SessionID)
		switch {
		case errors.Is(getErr, session.ErrNotFound):
			return nil, newError(KindUnknownSession, "session not found", nil)
		case getErr != nil:
			return nil, newError(KindInternal, "session lookup failed", getErr)
		}
		r.Subject = s.Subject
		r.ClientID = s.ClientID
		r.Client = nil
	} else if r.ClientID == "" {
		// Without session, fall back to an explicit client_id.
		r.ClientID = esr.ClientID
	}

	if r.Client == nil && r.ClientID != "" {
		registration, ok := e.clients.Get(ctx, r.ClientID)
		if !ok {
			if r.SessionID != "" {
				return nil, newError(KindUnknownClient, "session client is not registered", nil)
			}
			r.ClientID = ""
		}
		r.Client = registration
	}

	r.RedirectURI, err = e.ResolveRedirect(r.Client, esr.RawPostLogoutRedirectURI)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"sid_present":   r.SessionID != "",
		"client_id":     r.ClientID,
		"authenticated": r.Authenticated,
	}).Debugln("end session request validated")

	return r, nil
}

func (e *Engine) verifyIDTokenHint(rawIDTokenHint string) (*oidc.IDTokenClaims, error) {
	claims := &oidc.IDTokenClaims{}
	// Expired ID Tokens are valid hints.
	_, err := e.tokens.Verify(rawIDTokenHint, claims, &signing.VerifyOptions{
		Algs:                 e.tokens.SupportedAlgs(),
		SkipClaimsValidation: true,
	})
	switch {
	case errors.Is(err, signing.ErrUnsupportedAlgorithm):
		return nil, newError(KindUnsupportedSigningAlgorithm, "id_token_hint signing algorithm is not supported", err)
	case err != nil:
		return nil, newError(KindMalformedRequest, "id_token_hint did not verify", err)
	}
	if claims.Subject == "" {
		return nil, newError(KindMalformedRequest, "id_token_hint without sub", nil)
	}

	return claims, nil
}
