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

package oidc

// OAuth2 and OpenID Connect error codes.
const (
	ErrorCodeOAuth2InvalidRequest      = "invalid_request"
	ErrorCodeOAuth2InvalidClient       = "invalid_client"
	ErrorCodeOAuth2UnauthorizedClient  = "unauthorized_client"
	ErrorCodeOAuth2ServerError         = "server_error"
	ErrorCodeOAuth2InvalidToken        = "invalid_token"
	ErrorCodeOAuth2TemporarilyUnavailable = "temporarily_unavailable"
)

// Client authentication methods as registered at
// https://openid.net/specs/openid-connect-core-1_0.html#ClientAuthentication
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodClientSecretJWT   = "client_secret_jwt"
	AuthMethodPrivateKeyJWT     = "private_key_jwt"
	AuthMethodNone              = "none"
)

// ClientAssertionTypeJWTBearer is the client_assertion_type value for JWT
// based client authentication as defined in RFC 7523.
const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// BackChannelLogoutEvent is the events member key which identifies a JWT as
// logout token as specified at
// https://openid.net/specs/openid-connect-backchannel-1_0.html#LogoutToken
const BackChannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

// Parameter names used by the session termination endpoints.
const (
	ParamLogoutToken = "logout_token"
	ParamIssuer      = "iss"
	ParamSessionID   = "sid"
)
