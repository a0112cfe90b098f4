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

package clients

import (
	"crypto"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"

	"github.com/mendsley/gojwk"
)

// RegistryData is the base structur of our client registry configuration file.
type RegistryData struct {
	Clients []*ClientRegistration `yaml:"clients,flow"`
}

// ClientRegistration defines a client with its properties.
type ClientRegistration struct {
	ID     string `yaml:"id" json:"-"`
	Secret string `yaml:"secret" json:"-"`

	Insecure bool `yaml:"insecure" json:"-"`

	Name string `yaml:"name" json:"name,omitempty"`

	RedirectURIs           []string `yaml:"redirect_uris,flow" json:"redirect_uris,omitempty"`
	PostLogoutRedirectURIs []string `yaml:"post_logout_redirect_uris,flow" json:"post_logout_redirect_uris,omitempty"`

	FrontChannelLogoutURI             string `yaml:"frontchannel_logout_uri" json:"frontchannel_logout_uri,omitempty"`
	FrontChannelLogoutSessionRequired bool   `yaml:"frontchannel_logout_session_required" json:"frontchannel_logout_session_required,omitempty"`
	BackChannelLogoutURI              string `yaml:"backchannel_logout_uri" json:"backchannel_logout_uri,omitempty"`
	BackChannelLogoutSessionRequired  bool   `yaml:"backchannel_logout_session_required" json:"backchannel_logout_session_required,omitempty"`

	JWKS *gojwk.Key `yaml:"jwks" json:"-"`

	RawIDTokenSignedResponseAlg    string `yaml:"id_token_signed_response_alg" json:"id_token_signed_response_alg,omitempty"`
	RawTokenEndpointAuthMethod     string `yaml:"token_endpoint_auth_method" json:"token_endpoint_auth_method,omitempty"`
	RawTokenEndpointAuthSigningAlg string `yaml:"token_endpoint_auth_signing_alg"  json:"token_endpoint_auth_signing_alg,omitempty"`
}

// Validate checks the accociated client registration for consistency.
func (cr *ClientRegistration) Validate() error {
	if cr.ID == "" {
		return errors.New("invalid client_id")
	}

	for _, urlString := range cr.PostLogoutRedirectURIs {
		if _, err := cr.parseURI(urlString, false); err != nil {
			return fmt.Errorf("invalid post_logout_redirect_uri %v - %v", urlString, err)
		}
	}
	if cr.FrontChannelLogoutURI != "" {
		parsed, err := cr.parseURI(cr.FrontChannelLogoutURI, true)
		if err != nil {
			return fmt.Errorf("invalid frontchannel_logout_uri %v - %v", cr.FrontChannelLogoutURI, err)
		}
		if parsed.Fragment != "" {
			return fmt.Errorf("invalid frontchannel_logout_uri %v - must not contain a fragment", cr.FrontChannelLogoutURI)
		}
	}
	if cr.BackChannelLogoutURI != "" {
		parsed, err := cr.parseURI(cr.BackChannelLogoutURI, true)
		if err != nil {
			return fmt.Errorf("invalid backchannel_logout_uri %v - %v", cr.BackChannelLogoutURI, err)
		}
		if parsed.Fragment != "" {
			return fmt.Errorf("invalid backchannel_logout_uri %v - must not contain a fragment", cr.BackChannelLogoutURI)
		}
	}

	return nil
}

func (cr *ClientRegistration) parseURI(urlString string, httpOnly bool) (*url.URL, error) {
	parsed, err := url.Parse(urlString)
	if err != nil {
		return nil, err
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, errors.New("not absolute or no hostname")
	}
	if httpOnly {
		switch parsed.Scheme {
		case "https":
		case "http":
			if !cr.Insecure {
				return nil, errors.New("make sure to use https")
			}
		default:
			return nil, errors.New("scheme must be http or https")
		}
	}

	return parsed, nil
}

// PublicKey looks up a matching key from the accociated client registration
// and returns its public key part.
func (cr *ClientRegistration) PublicKey(rawKid interface{}) (string, crypto.PublicKey, error) {
	var kid string
	var key crypto.PublicKey
	var err error

	if cr.JWKS == nil {
		return "", nil, errors.New("no jwks")
	}

	switch len(cr.JWKS.Keys) {
	case 0:
		// breaks
	case 1:
		// Use the one and only, no matter what kid says.
		key, err = cr.JWKS.Keys[0].DecodePublicKey()
		if err != nil {
			return "", nil, err
		}
		kid = cr.JWKS.Keys[0].Kid
	default:
		// Find by kid.
		kid, _ = rawKid.(string)
		if kid == "" {
			kid = "default"
		}
		for _, k := range cr.JWKS.Keys {
			if kid == k.Kid {
				key, err = k.DecodePublicKey()
				if err != nil {
					return "", nil, err
				}
				break
			}
		}
	}

	if key == nil {
		return "", nil, errors.New("unknown kid")
	}

	return kid, key, nil
}

// ValidateSecret checks the provided secret against the accociated client
// registration in constant time.
func (cr *ClientRegistration) ValidateSecret(clientSecret string) error {
	if cr.Secret == "" {
		return errors.New("no secret registered")
	}
	if subtle.ConstantTimeCompare([]byte(cr.Secret), []byte(clientSecret)) != 1 {
		return errors.New("secret mismatch")
	}

	return nil
}
