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

	"stash.kopano.io/kc/klogout/utils"
)

// Result is the final response of a logout.
type Result struct {
	FrontChannelIframes []string
	RedirectTarget      string
}

type stateParam struct {
	State string `url:"state,omitempty"`
}

// Finalize revokes the sessions of the provided Outcome and computes the
// final redirect target. Revocation is attempted for every session even if
// some fail and even if the provided context is already done. Revoking an
// already revoked session is not an error.
func (e *Engine) Finalize(ctx context.Context, outcome *Outcome, redirectURI string, state string) (*Result, error) {
	revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.revocationTimeout)
	defer cancel()

	var firstErr error
	for _, sid := range outcome.SessionIDs {
		if err := e.sessions.Revoke(revokeCtx, sid); err != nil {
			e.logger.WithError(err).WithField("sid", sid).Errorln("failed to revoke session")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		e.logger.WithField("sid", sid).Debugln("session revoked")
	}
	if firstErr != nil {
		e.metrics.requests.WithLabelValues("finalize", KindInternal.String()).Inc()
		return nil, newError(KindInternal, "failed to revoke session", firstErr)
	}

	target := e.postLogoutPage
	if redirectURI != "" {
		var err error
		target, err = utils.URLWithQueryParams(redirectURI, &stateParam{State: state})
		if err != nil {
			return nil, newError(KindInternal, "failed to build redirect target", err)
		}
	}

	e.metrics.requests.WithLabelValues("finalize", "ok").Inc()
	return &Result{
		FrontChannelIframes: outcome.FrontChannelIframes,
		RedirectTarget:      target,
	}, nil
}

// Logout resumes the logout described by the provided confirmation token,
// notifies the relying parties selected by scope and finalizes the logout.
// Once the token is verified, the logout runs to completion even if the
// provided context is canceled.
func (e *Engine) Logout(ctx context.Context, confirmationToken string, scope Scope) (*Result, error) {
	c, err := e.ResumeFromConfirmation(confirmationToken)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	notifyCtx, cancel := context.WithTimeout(ctx, e.logoutTimeout)
	defer cancel()

	outcome, err := e.ExecuteLogout(notifyCtx, c.SessionID, c.ClientID, scope)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"sid":        c.SessionID,
		"client_id":  c.ClientID,
		"scope":      scope.String(),
		"iframes":    len(outcome.FrontChannelIframes),
		"deliveries": len(outcome.Deliveries),
	}).Debugln("logout executed")

	return e.Finalize(ctx, outcome, c.RedirectURI, c.State)
}
