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

package signing

import (
	"sort"

	"gopkg.in/square/go-jose.v2"
)

// JWKS returns the public keys of the accociated Manager as JSON Web Key Set.
func (m *Manager) JWKS() *jose.JSONWebKeySet {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	algs := make(map[string]string)
	for _, sk := range m.signingKeys {
		algs[sk.ID] = sk.Method.Alg()
	}

	kids := make([]string, 0, len(m.validationKeys))
	for kid := range m.validationKeys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	set := &jose.JSONWebKeySet{
		Keys: make([]jose.JSONWebKey, 0, len(kids)),
	}
	for _, kid := range kids {
		key := jose.JSONWebKey{
			Key:       m.validationKeys[kid],
			KeyID:     kid,
			Use:       "sig",
			Algorithm: algs[kid],
		}
		if !key.Valid() {
			if m.logger != nil {
				m.logger.WithField("kid", kid).Warnln("skipping invalid key in jwks")
			}
			continue
		}
		set.Keys = append(set.Keys, key)
	}

	return set
}
