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
	"errors"
	"net/url"
	"strings"

	"stash.kopano.io/kc/klogout/identity/clients"
	"stash.kopano.io/kc/klogout/oidc"
	"stash.kopano.io/kc/klogout/utils"
)

// Channel is the notification capability of a relying party. It is one of
// NoChannel, FrontChannel or BackChannel.
type Channel interface {
	channel()
}

// NoChannel is used for relying parties without logout URI.
type NoChannel struct{}

// FrontChannel notifies a relying party via an iframe rendered in the
// browser of the End-User.
type FrontChannel struct {
	URI             string
	SessionRequired bool
}

// BackChannel notifies a relying party with a logout token sent directly
// from the provider.
type BackChannel struct {
	URI string
	Alg string
}

func (NoChannel) channel()    {}
func (FrontChannel) channel() {}
func (BackChannel) channel()  {}

// SelectChannel returns the Channel for the provided client. Back-channel
// takes precedence over front-channel.
func (e *Engine) SelectChannel(client *clients.ClientRegistration) Channel {
	switch {
	case client.BackChannelLogoutURI != "":
		return BackChannel{
			URI: client.BackChannelLogoutURI,
			Alg: e.logoutTokenAlg(client),
		}
	case client.FrontChannelLogoutURI != "":
		return FrontChannel{
			URI:             client.FrontChannelLogoutURI,
			SessionRequired: client.FrontChannelLogoutSessionRequired,
		}
	default:
		return NoChannel{}
	}
}

func (e *Engine) logoutTokenAlg(client *clients.ClientRegistration) string {
	if alg := client.RawIDTokenSignedResponseAlg; alg != "" {
		if e.tokens.IsSupportedAlg(alg) {
			return alg
		}
		e.logger.WithField("client_id", client.ID).Warnf("client id_token_signed_response_alg %s is not supported, using default", alg)
	}
	return e.tokens.DefaultAlg()
}

var iframeAttributeReplacer = strings.NewReplacer(`"`, "%22", "<", "%3C", ">", "%3E")

// FrontChannelIframe returns the iframe markup which notifies the relying
// party of the provided channel about the logout of the provided session.
// Without a session, only the issuer is added for channels which require
// session information.
func FrontChannelIframe(issuer string, ch FrontChannel, sid string) (string, error) {
	uri, err := url.Parse(ch.URI)
	if err != nil {
		return "", err
	}
	if !uri.IsAbs() || uri.Host == "" {
		return "", errors.New("frontchannel_logout_uri is not absolute")
	}

	if ch.SessionRequired {
		query := url.Values{}
		query.Set(oidc.ParamIssuer, issuer)
		if sid != "" {
			query.Set(oidc.ParamSessionID, sid)
		}
		utils.MergeQuery(uri, query)
	}
	src := uri.String()

	return `<iframe src="` + iframeAttributeReplacer.Replace(src) + `">`, nil
}
