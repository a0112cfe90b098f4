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
	"errors"
)

// ErrUserNotFound is returned when a subject does not resolve to a user.
var ErrUserNotFound = errors.New("user not found")

// A Directory resolves user meta data by subject.
type Directory interface {
	Username(ctx context.Context, subject string) (string, error)
}
