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
	"net/url"
	"strings"

	"stash.kopano.io/kc/klogout/identity/clients"
)

// ResolveRedirect returns the post logout redirect URI for the provided
// client. Without a requested URI, the first registered one is selected. A
// requested URI must match a registered URI with query and fragment ignored
// and is returned unchanged.
func (e *Engine) ResolveRedirect(client *clients.ClientRegistration, requested string) (string, error) {
	if client == nil {
		if requested != "" {
			return "", newError(KindUnregisteredRedirectURI, "post_logout_redirect_uri without client", nil)
		}
		return "", nil
	}

	if requested == "" {
		if len(client.PostLogoutRedirectURIs) > 0 {
			return client.PostLogoutRedirectURIs[0], nil
		}
		return "", nil
	}

	requestedBase, ok := redirectBase(requested)
	if ok {
		for _, registered := range client.PostLogoutRedirectURIs {
			if registeredBase, valid := redirectBase(registered); valid && registeredBase == requestedBase {
				return requested, nil
			}
		}
	}

	return "", newError(KindUnregisteredRedirectURI, "post_logout_redirect_uri is not registered", nil)
}

func redirectBase(uriString string) (string, bool) {
	uri, err := url.Parse(uriString)
	if err != nil || !uri.IsAbs() {
		return "", false
	}

	base := &url.URL{
		Scheme: strings.ToLower(uri.Scheme),
		User:   uri.User,
		Host:   strings.ToLower(uri.Host),
		Path:   uri.Path,
		Opaque: uri.Opaque,
	}
	return base.String(), true
}
