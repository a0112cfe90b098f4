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
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	"github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/klogout/oidc"
	"stash.kopano.io/kc/klogout/signing"
	"stash.kopano.io/kc/klogout/utils"
)

// LogoutToken creates a signed logout token for the provided channel and
// session. The token is audienced for the provided client.
func (e *Engine) LogoutToken(ch BackChannel, clientID string, sid string, sub string) (string, error) {
	claims := map[string]interface{}{
		oidc.EventsClaim: map[string]interface{}{
			oidc.BackChannelLogoutEvent: struct{}{},
		},
		oidc.JWTIDClaim: uuid.NewV4().String(),
	}
	if sub != "" {
		claims[oidc.SubjectIdentifierClaim] = sub
	}
	if sid != "" {
		claims[oidc.SessionIDClaim] = sid
	}

	return e.tokens.Sign(claims, &signing.SignOptions{
		Audience: clientID,
		Lifetime: e.logoutTokenLifetime,
		Alg:      ch.Alg,
	})
}

func (e *Engine) deliverBackChannel(ctx context.Context, ch BackChannel, t target) error {
	logger := e.logger.WithFields(logrus.Fields{
		"client_id": t.clientID,
		"sid":       t.sessionID,
		"uri":       ch.URI,
	})

	err := e.postLogoutToken(ctx, ch, t)
	if err != nil {
		e.metrics.deliveries.WithLabelValues("backchannel", "failed").Inc()
		logger.WithError(err).Warnln("back-channel logout delivery failed")
		return newError(KindDeliveryFailure, "back-channel logout delivery failed", err)
	}

	e.metrics.deliveries.WithLabelValues("backchannel", "ok").Inc()
	logger.Infoln("back-channel logout delivered")
	return nil
}

func (e *Engine) postLogoutToken(ctx context.Context, ch BackChannel, t target) error {
	if t.subject == "" && t.sessionID == "" {
		return fmt.Errorf("no subject or session to notify")
	}
	token, err := e.LogoutToken(ch, t.clientID, t.sessionID, t.subject)
	if err != nil {
		return fmt.Errorf("failed to sign logout token: %w", err)
	}

	form := url.Values{}
	form.Set(oidc.ParamLogoutToken, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.URI, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", utils.DefaultHTTPUserAgent)

	response, err := e.backChannelClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	_, _ = io.Copy(ioutil.Discard, response.Body)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("unexpected response status: %d", response.StatusCode)
	}

	return nil
}
