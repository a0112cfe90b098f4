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

package users

import (
	"context"
	"io/ioutil"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// StaticData is the base structure of the static user directory file.
type StaticData struct {
	Users []*StaticUser `yaml:"users,flow"`
}

// StaticUser defines a user of the static directory.
type StaticUser struct {
	Subject  string `yaml:"sub"`
	Username string `yaml:"username"`
}

// StaticDirectory is a Directory with a fixed set of users.
type StaticDirectory struct {
	mutex     sync.RWMutex
	usernames map[string]string
}

// NewStaticDirectory creates a StaticDirectory from the YAML file at the
// provided path.
func NewStaticDirectory(fn string, logger logrus.FieldLogger) (*StaticDirectory, error) {
	data := &StaticData{}

	if fn != "" {
		logger.Debugf("parsing static users from %v", fn)
		raw, err := ioutil.ReadFile(fn)
		if err != nil {
			return nil, err
		}
		if err = yaml.Unmarshal(raw, data); err != nil {
			return nil, err
		}
	}

	d := &StaticDirectory{
		usernames: make(map[string]string),
	}
	for _, user := range data.Users {
		if user.Subject == "" || user.Username == "" {
			logger.WithField("sub", user.Subject).Warnln("skipped incomplete static user")
			continue
		}
		d.Add(user.Subject, user.Username)
	}

	return d, nil
}

// Add adds or replaces the user with the provided subject.
func (d *StaticDirectory) Add(subject string, username string) {
	d.mutex.Lock()
	d.usernames[subject] = username
	d.mutex.Unlock()
}

// Username implements the Directory interface.
func (d *StaticDirectory) Username(ctx context.Context, subject string) (string, error) {
	d.mutex.RLock()
	username, ok := d.usernames[subject]
	d.mutex.RUnlock()
	if !ok {
		return "", ErrUserNotFound
	}

	return username, nil
}
