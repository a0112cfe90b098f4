/*
 * Copyright 2017 Kopano and its licensors
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
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gopkg.in/ldap.v2"
)

// LDAPConfig defines a LDAPDirectory's configuration settings.
type LDAPConfig struct {
	URI          string
	BindDN       string
	BindPassword string
	BaseDN       string
	Scope        string
	Filter       string

	SubjectAttribute string
	LoginAttribute   string

	TLSConfig *tls.Config
	Logger    logrus.FieldLogger
}

// LDAPDirectory is a Directory which resolves users via LDAP search.
type LDAPDirectory struct {
	addr         string
	isTLS        bool
	bindDN       string
	bindPassword string

	baseDN       string
	scope        int
	searchFilter string

	loginAttribute string

	logger    logrus.FieldLogger
	dialer    *net.Dialer
	tlsConfig *tls.Config

	timeout int
	limiter *rate.Limiter
}

// NewLDAPDirectory creates a new LDAPDirectory with the provided config.
func NewLDAPDirectory(c *LDAPConfig) (*LDAPDirectory, error) {
	var err error
	var scope int
	var uri *url.URL
	for {
		if c.URI == "" {
			err = fmt.Errorf("server must not be empty")
			break
		}
		uri, err = url.Parse(c.URI)
		if err != nil {
			break
		}
		if c.BindDN == "" && c.BindPassword != "" {
			err = fmt.Errorf("bind DN must not be empty when bind password is given")
			break
		}
		if c.BaseDN == "" {
			err = fmt.Errorf("base DN must not be empty")
			break
		}
		switch c.Scope {
		case "sub", "":
			scope = ldap.ScopeWholeSubtree
		case "one":
			scope = ldap.ScopeSingleLevel
		case "base":
			scope = ldap.ScopeBaseObject
		default:
			err = fmt.Errorf("unknown scope value: %v, must be one of sub, one or base", c.Scope)
		}

		break
	}
	if err != nil {
		return nil, fmt.Errorf("ldap directory %v", err)
	}

	addr := uri.Host
	isTLS := false
	switch uri.Scheme {
	case "":
		uri.Scheme = "ldap"
		fallthrough
	case "ldap":
		if uri.Port() == "" {
			addr += ":389"
		}
	case "ldaps":
		if uri.Port() == "" {
			addr += ":636"
		}
		isTLS = true
	default:
		return nil, fmt.Errorf("ldap directory invalid URI scheme: %v", uri.Scheme)
	}

	filter := c.Filter
	if filter == "" {
		filter = "(objectClass=inetOrgPerson)"
	}
	subjectAttribute := c.SubjectAttribute
	if subjectAttribute == "" {
		subjectAttribute = "entryUUID"
	}
	loginAttribute := c.LoginAttribute
	if loginAttribute == "" {
		loginAttribute = "uid"
	}

	d := &LDAPDirectory{
		addr:         addr,
		isTLS:        isTLS,
		bindDN:       c.BindDN,
		bindPassword: c.BindPassword,
		baseDN:       c.BaseDN,
		scope:        scope,
		searchFilter: fmt.Sprintf("(&%s(%s=%%s))", filter, subjectAttribute),

		loginAttribute: loginAttribute,

		logger: c.Logger,
		dialer: &net.Dialer{
			Timeout:   ldap.DefaultTimeout,
			DualStack: true,
		},
		tlsConfig: c.TLSConfig,

		timeout: 60,
		limiter: rate.NewLimiter(100, 200),
	}

	d.logger.WithField("ldap", fmt.Sprintf("%s://%s ", uri.Scheme, addr)).Infoln("ldap user directory set up")

	return d, nil
}

// Username implements the Directory interface.
func (d *LDAPDirectory) Username(ctx context.Context, subject string) (string, error) {
	l, err := d.connect(ctx)
	if err != nil {
		return "", fmt.Errorf("ldap directory connect error: %v", err)
	}
	defer l.Close()

	searchRequest := ldap.NewSearchRequest(
		d.baseDN,
		d.scope, ldap.NeverDerefAliases, 1, d.timeout, false,
		d.filterForSubject(subject),
		[]string{"dn", d.loginAttribute},
		nil,
	)
	sr, err := l.Search(searchRequest)
	if err != nil {
		return "", fmt.Errorf("ldap directory search error: %v", err)
	}

	switch len(sr.Entries) {
	case 0:
		return "", ErrUserNotFound
	case 1:
		username := sr.Entries[0].GetAttributeValue(d.loginAttribute)
		if username == "" {
			return "", ErrUserNotFound
		}
		return username, nil
	default:
		return "", fmt.Errorf("ldap directory too many entries returned")
	}
}

func (d *LDAPDirectory) filterForSubject(subject string) string {
	return fmt.Sprintf(d.searchFilter, ldap.EscapeFilter(subject))
}

func (d *LDAPDirectory) connect(parentCtx context.Context) (*ldap.Conn, error) {
	// Waiting for a limiter slot and connecting share one timeout.
	ctx, cancel := context.WithTimeout(parentCtx, time.Duration(d.timeout)*time.Second)
	defer cancel()

	err := d.limiter.Wait(ctx)
	if err != nil {
		return nil, err
	}

	c, err := d.dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, ldap.NewError(ldap.ErrorNetwork, err)
	}

	var l *ldap.Conn
	if d.isTLS {
		sc := tls.Client(c, d.tlsConfig)
		err = sc.Handshake()
		if err != nil {
			c.Close()
			return nil, ldap.NewError(ldap.ErrorNetwork, err)
		}
		l = ldap.NewConn(sc, true)
	} else {
		l = ldap.NewConn(c, false)
	}

	l.Start()

	if d.bindDN != "" {
		err = l.Bind(d.bindDN, d.bindPassword)
		if err != nil {
			l.Close()
			return nil, err
		}
	}

	return l, nil
}
