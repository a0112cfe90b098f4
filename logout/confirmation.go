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
	"stash.kopano.io/kc/klogout/oidc"
	"stash.kopano.io/kc/klogout/signing"
)

// Confirmation holds the facts recovered from a confirmation token.
type Confirmation struct {
	SessionID   string
	ClientID    string
	RedirectURI string
	State       string
}

// IssueConfirmation signs the provided validated request into a confirmation
// token which is issued by and for the accociated provider. Nothing is
// stored server side.
func (e *Engine) IssueConfirmation(r *Request) (string, error) {
	claims := map[string]interface{}{
		oidc.SessionIDClaim:            r.SessionID,
		oidc.ClientIDClaim:             r.ClientID,
		oidc.RedirectURIClaim:          r.RedirectURI,
		oidc.IsLogoutConfirmationClaim: true,
	}
	if r.State != "" {
		claims[oidc.StateClaim] = r.State
	}

	token, err := e.tokens.Sign(claims, &signing.SignOptions{
		Audience: e.issuer,
		Lifetime: e.confirmationLifetime,
		Alg:      e.confirmationSigningAlg,
	})
	if err != nil {
		return "", newError(KindInternal, "failed to sign confirmation", err)
	}

	return token, nil
}

// ResumeFromConfirmation verifies the provided confirmation token and returns
// its content unchanged. The content is not checked against live session
// state.
func (e *Engine) ResumeFromConfirmation(token string) (*Confirmation, error) {
	claims := &oidc.ConfirmationClaims{}
	_, err := e.tokens.Verify(token, claims, &signing.VerifyOptions{
		Algs:     []string{e.confirmationSigningAlg},
		Audience: e.issuer,
	})
	if err != nil {
		e.metrics.requests.WithLabelValues("confirm", KindSignatureVerificationFailure.String()).Inc()
		return nil, newError(KindSignatureVerificationFailure, "confirmation did not verify", err)
	}

	return &Confirmation{
		SessionID:   claims.SessionID,
		ClientID:    claims.ClientID,
		RedirectURI: claims.RedirectURI,
		State:       claims.State,
	}, nil
}
