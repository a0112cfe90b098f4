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

package server

import (
	"stash.kopano.io/kc/klogout/config"
	"stash.kopano.io/kc/klogout/cookie"
	"stash.kopano.io/kc/klogout/introspection"
	"stash.kopano.io/kc/klogout/logout"
	"stash.kopano.io/kc/klogout/signing"
)

// Default endpoint paths.
const (
	DefaultEndSessionPath    = "/klogout/v1/endsession"
	DefaultConfirmPath       = "/klogout/v1/endsession/confirm"
	DefaultIntrospectionPath = "/klogout/v1/introspect"
	DefaultJWKSPath          = "/klogout/v1/jwks.json"
	DefaultHealthCheckPath   = "/health-check"
	DefaultMetricsPath       = "/metrics"
)

// Config defines a Server's configuration settings.
type Config struct {
	Config *config.Config

	Engine              *logout.Engine
	Introspector        *introspection.Introspector
	ClientAuthenticator logout.ClientAuthenticator
	Tokens              *signing.Manager
	Cookies             *cookie.Dealer

	// LogoutVerifyURI if set is the external page which asks the End-User to
	// confirm a logout. The confirmation token is passed as sjwt query
	// parameter. If empty, a built-in page is rendered.
	LogoutVerifyURI string
}
