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

package encryption

import (
	"fmt"
	"sync"
)

// Manager encrypts and decrypts with a shared secret key.
type Manager struct {
	mutex sync.RWMutex
	key   *[KeySize]byte
}

// NewManager creates a new Manager with the provided key. If key is nil, a
// key must be set with SetKey before use.
func NewManager(key []byte) (*Manager, error) {
	m := &Manager{}
	if key != nil {
		if err := m.SetKey(key); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// SetKey sets the provided key for the accociated manager.
func (m *Manager) SetKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("invalid key size: got %d want %d", len(key), KeySize)
	}

	k := new([KeySize]byte)
	copy(k[:], key)

	m.mutex.Lock()
	m.key = k
	m.mutex.Unlock()

	return nil
}

// Encrypt encrypts the provided plaintext with the accociated key.
func (m *Manager) Encrypt(plaintext []byte) ([]byte, error) {
	m.mutex.RLock()
	key := m.key
	m.mutex.RUnlock()
	if key == nil {
		return nil, fmt.Errorf("no encryption key set")
	}

	return Encrypt(plaintext, key)
}

// Decrypt decrypts the provided ciphertext with the accociated key.
func (m *Manager) Decrypt(ciphertext []byte) ([]byte, error) {
	m.mutex.RLock()
	key := m.key
	m.mutex.RUnlock()
	if key == nil {
		return nil, fmt.Errorf("no encryption key set")
	}

	return Decrypt(ciphertext, key)
}
