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

package cookie

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"

	"github.com/gorilla/securecookie"

	"stash.kopano.io/kc/klogout/encryption"
)

// Info is the content of the session cookie.
type Info struct {
	Version   int
	SessionID string
	UserID    string
}

// A Codec encodes and decodes cookie values.
type Codec interface {
	Encode(name string, info *Info) (string, error)
	Decode(name string, value string, info *Info) error
}

// SecureCookieCodec is a Codec which authenticates and optionally encrypts
// cookie values with gorilla/securecookie.
type SecureCookieCodec struct {
	sc *securecookie.SecureCookie
}

// NewSecureCookieCodec creates a new SecureCookieCodec with the provided keys.
// The blockKey is optional and enables AES encryption when set.
func NewSecureCookieCodec(hashKey, blockKey []byte, maxAge int) *SecureCookieCodec {
	sc := securecookie.New(hashKey, blockKey)
	if maxAge > 0 {
		sc.MaxAge(maxAge)
	}

	return &SecureCookieCodec{
		sc: sc,
	}
}

// Encode implements the Codec interface.
func (c *SecureCookieCodec) Encode(name string, info *Info) (string, error) {
	return c.sc.Encode(name, info)
}

// Decode implements the Codec interface.
func (c *SecureCookieCodec) Decode(name string, value string, info *Info) error {
	return c.sc.Decode(name, value, info)
}

// SecretboxCodec is a Codec which seals gob encoded cookie values with
// nacl/secretbox.
type SecretboxCodec struct {
	encryptionManager *encryption.Manager
}

// NewSecretboxCodec creates a new SecretboxCodec using the provided
// encryption manager.
func NewSecretboxCodec(encryptionManager *encryption.Manager) *SecretboxCodec {
	return &SecretboxCodec{
		encryptionManager: encryptionManager,
	}
}

// Encode implements the Codec interface.
func (c *SecretboxCodec) Encode(name string, info *Info) (string, error) {
	var b bytes.Buffer
	enc := gob.NewEncoder(&b)
	err := enc.Encode(info)
	if err != nil {
		return "", err
	}

	ciphertext, err := c.encryptionManager.Encrypt(b.Bytes())
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// Decode implements the Codec interface.
func (c *SecretboxCodec) Decode(name string, value string, info *Info) error {
	ciphertext, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return err
	}

	raw, err := c.encryptionManager.Decrypt(ciphertext)
	if err != nil {
		return err
	}

	dec := gob.NewDecoder(bytes.NewReader(raw))
	return dec.Decode(info)
}
