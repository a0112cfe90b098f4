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
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCookieName is the name of the session cookie if nothing else is
// configured.
const DefaultCookieName = "__Secure-KKS"

var farPastExpiryTime = time.Unix(0, 0)

// Config defines a Dealer's configuration settings.
type Config struct {
	Name     string
	Path     string
	Insecure bool
	MaxAge   time.Duration
	Codec    Codec

	Logger logrus.FieldLogger
}

// Dealer reads, writes and removes the session cookie.
type Dealer struct {
	name     string
	path     string
	insecure bool
	maxAge   time.Duration
	codec    Codec

	logger logrus.FieldLogger
}

// NewDealer creates a new Dealer with the provided Config.
func NewDealer(c *Config) (*Dealer, error) {
	if c.Codec == nil {
		return nil, errors.New("cookie codec is required")
	}

	d := &Dealer{
		name:     c.Name,
		path:     c.Path,
		insecure: c.Insecure,
		maxAge:   c.MaxAge,
		codec:    c.Codec,

		logger: c.Logger,
	}
	if d.name == "" {
		d.name = DefaultCookieName
	}
	if d.path == "" {
		d.path = "/"
	}

	return d, nil
}

// Name returns the cookie name of the accociated Dealer.
func (d *Dealer) Name() string {
	return d.name
}

// Decode extracts the session cookie from the provided Cookie header value
// and decodes it. If the header holds no session cookie, nil is returned
// without error.
func (d *Dealer) Decode(cookieHeader string) (*Info, error) {
	if cookieHeader == "" {
		return nil, nil
	}

	req := &http.Request{Header: http.Header{"Cookie": []string{cookieHeader}}}
	cookie, err := req.Cookie(d.name)
	if err == http.ErrNoCookie {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	info := &Info{}
	if err = d.codec.Decode(d.name, cookie.Value, info); err != nil {
		return nil, fmt.Errorf("failed to decode session cookie: %w", err)
	}
	if info.SessionID == "" {
		return nil, errors.New("session cookie without session id")
	}

	return info, nil
}

// Write sets the session cookie with the provided info.
func (d *Dealer) Write(rw http.ResponseWriter, info *Info) error {
	value, err := d.codec.Encode(d.name, info)
	if err != nil {
		return err
	}

	cookie := &http.Cookie{
		Name:  d.name,
		Value: value,

		Path:     d.path,
		Secure:   !d.insecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if d.maxAge > 0 {
		cookie.MaxAge = int(d.maxAge.Seconds())
	}
	http.SetCookie(rw, cookie)

	return nil
}

// Remove expires the session cookie.
func (d *Dealer) Remove(rw http.ResponseWriter) {
	http.SetCookie(rw, &http.Cookie{
		Name: d.name,

		Path:     d.path,
		Secure:   !d.insecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,

		Expires: farPastExpiryTime,
		MaxAge:  -1,
	})
}
