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

package payload

import (
	"errors"
	"net/http"
	"net/url"
)

// IntrospectionRequest holds the incoming parameters of OAuth 2.0 Token
// Introspection requests as specified at https://tools.ietf.org/html/rfc7662
type IntrospectionRequest struct {
	Token         string `schema:"token"`
	TokenTypeHint string `schema:"token_type_hint"`
}

// DecodeIntrospectionRequest returns a IntrospectionRequest holding the
// provided requests form data.
func DecodeIntrospectionRequest(req *http.Request) (*IntrospectionRequest, error) {
	return NewIntrospectionRequest(req.PostForm)
}

// NewIntrospectionRequest returns a IntrospectionRequest holding the provided
// url values.
func NewIntrospectionRequest(values url.Values) (*IntrospectionRequest, error) {
	ir := &IntrospectionRequest{}
	err := DecodeSchema(ir, values)
	if err != nil {
		return nil, err
	}

	return ir, nil
}

// Validate validates the request data of the accociated introspection
// request.
func (ir *IntrospectionRequest) Validate() error {
	if ir.Token == "" {
		return errors.New("token is required")
	}

	return nil
}

// IntrospectionResponse holds the outgoing data of a token introspection
// response.
type IntrospectionResponse struct {
	Active bool `json:"active"`

	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	NotBefore int64  `json:"nbf,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Audience  string `json:"aud,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	JWTID     string `json:"jti,omitempty"`
}

// Inactive returns the response for tokens which are not active.
func Inactive() *IntrospectionResponse {
	return &IntrospectionResponse{}
}
