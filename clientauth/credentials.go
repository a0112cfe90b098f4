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
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"stash.kopano.io/kc/klogout/oidc"
)

// Credentials holds the client authentication material of a request.
type Credentials struct {
	Method string

	ClientID            string
	ClientSecret        string
	ClientAssertion     string
	ClientAssertionType string

	err error
}

// CredentialsFromRequest extracts client authentication material from the
// provided request. The request form must be parsed already.
func CredentialsFromRequest(req *http.Request) *Credentials {
	creds := &Credentials{}

	if auth := req.Header.Get("Authorization"); auth != "" {
		if len(auth) > 6 && strings.EqualFold(auth[:6], "basic ") {
			creds.Method = oidc.AuthMethodClientSecretBasic
			creds.ClientID, creds.ClientSecret, creds.err = parseBasicAuth(auth[6:])
			return creds
		}
	}

	creds.ClientID = req.PostForm.Get("client_id")
	switch {
	case req.PostForm.Get("client_assertion") != "":
		creds.ClientAssertion = req.PostForm.Get("client_assertion")
		creds.ClientAssertionType = req.PostForm.Get("client_assertion_type")
		// Refined to the concrete JWT method once the assertion is verified.
		creds.Method = oidc.AuthMethodPrivateKeyJWT
	case req.PostForm.Get("client_secret") != "":
		creds.Method = oidc.AuthMethodClientSecretPost
		creds.ClientSecret = req.PostForm.Get("client_secret")
	}

	return creds
}

func parseBasicAuth(encoded string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", errors.New("invalid basic authorization encoding")
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", errors.New("invalid basic authorization value")
	}

	// Client id and secret are form encoded as specified in RFC 6749 2.3.1.
	clientID, err := url.QueryUnescape(parts[0])
	if err != nil {
		return "", "", err
	}
	clientSecret, err := url.QueryUnescape(parts[1])
	if err != nil {
		return "", "", err
	}

	return clientID, clientSecret, nil
}
