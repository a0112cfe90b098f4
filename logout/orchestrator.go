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
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stash.kopano.io/kc/klogout/session"
)

// Scope selects which relying parties are notified by a logout.
type Scope int

// Supported scopes.
const (
	// SingleClient notifies the client of the originating session only.
	SingleClient Scope = iota
	// AllClients notifies every client with a live session of the user.
	AllClients
)

func (s Scope) String() string {
	if s == AllClients {
		return "all"
	}
	return "single"
}

// Delivery records a single back-channel notification attempt.
type Delivery struct {
	ClientID  string
	SessionID string
	URI       string
	Err       error
}

// Outcome is the result of ExecuteLogout.
type Outcome struct {
	// FrontChannelIframes lists the iframes to render, in target order.
	FrontChannelIframes []string
	// SessionIDs lists the sessions which are to be revoked.
	SessionIDs []string
	Deliveries []*Delivery
}

type backChannelJob struct {
	channel  BackChannel
	target   target
	delivery *Delivery
}

type target struct {
	sessionID string
	clientID  string
	subject   string
}

// ExecuteLogout notifies the relying parties selected by the provided scope
// about the logout of the provided session. Back-channel notifications are
// delivered before ExecuteLogout returns. Failed deliveries are recorded in
// the returned Outcome but never fail the logout. Store faults while
// collecting targets reduce the logout to the originating session.
func (e *Engine) ExecuteLogout(ctx context.Context, sid string, clientID string, scope Scope) (*Outcome, error) {
	targets := e.targets(ctx, sid, clientID, scope)

	outcome := &Outcome{}
	if sid != "" {
		if scope == AllClients {
			for _, t := range targets {
				if t.sessionID != "" {
					outcome.SessionIDs = append(outcome.SessionIDs, t.sessionID)
				}
			}
		} else {
			outcome.SessionIDs = []string{sid}
		}
	}

	var jobs []*backChannelJob
	for _, t := range targets {
		if t.clientID == "" {
			continue
		}
		client, ok := e.clients.Get(ctx, t.clientID)
		if !ok {
			e.logger.WithFields(logrus.Fields{
				"client_id": t.clientID,
				"sid":       t.sessionID,
			}).Warnln("logout skipping unknown client")
			continue
		}

		switch ch := e.SelectChannel(client).(type) {
		case BackChannel:
			jobs = append(jobs, &backChannelJob{
				channel: ch,
				target:  t,
				delivery: &Delivery{
					ClientID:  t.clientID,
					SessionID: t.sessionID,
					URI:       ch.URI,
				},
			})
		case FrontChannel:
			iframe, iframeErr := FrontChannelIframe(e.issuer, ch, t.sessionID)
			if iframeErr != nil {
				e.logger.WithError(iframeErr).WithField("client_id", t.clientID).Warnln("logout front-channel uri is invalid")
				continue
			}
			outcome.FrontChannelIframes = append(outcome.FrontChannelIframes, iframe)
		case NoChannel:
			e.logger.WithField("client_id", t.clientID).Debugln("logout client has no logout channel")
		}
	}

	if len(jobs) > 0 {
		// Deliveries never fail the group, so all of them run to completion.
		var g errgroup.Group
		g.SetLimit(e.maxParallelDeliveries)
		for _, job := range jobs {
			job := job
			g.Go(func() error {
				job.delivery.Err = e.deliverBackChannel(ctx, job.channel, job.target)
				return nil
			})
		}
		_ = g.Wait()
		for _, job := range jobs {
			outcome.Deliveries = append(outcome.Deliveries, job.delivery)
		}
	}

	return outcome, nil
}

// targets returns the logout targets of the provided session. The
// originating session is always the first target. Store faults while
// collecting the other sessions of the user are logged and reduce the
// targets to the originating session.
func (e *Engine) targets(ctx context.Context, sid string, clientID string, scope Scope) []target {
	origin := target{
		sessionID: sid,
		clientID:  clientID,
	}
	if sid == "" {
		return []target{origin}
	}

	logger := e.logger.WithField("sid", sid)
	if sub, err := e.sessions.SubjectBySessionID(ctx, sid); err == nil {
		origin.subject = sub
	} else if !errors.Is(err, session.ErrNotFound) {
		logger.WithError(err).Errorln("logout failed to lookup session subject")
	}

	if scope != AllClients {
		return []target{origin}
	}

	uid, err := e.sessions.UserIDBySessionID(ctx, sid)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			logger.WithError(err).Errorln("logout failed to lookup session user, notifying origin only")
		}
		return []target{origin}
	}
	sids, err := e.sessions.SessionIDsByUserID(ctx, uid)
	if err != nil {
		logger.WithError(err).Errorln("logout failed to lookup user sessions, notifying origin only")
		return []target{origin}
	}

	targets := []target{origin}
	for _, other := range sids {
		if other == sid {
			continue
		}
		s, getErr := e.sessions.Get(ctx, other)
		if getErr != nil {
			if !errors.Is(getErr, session.ErrNotFound) {
				logger.WithError(getErr).WithField("other_sid", other).Errorln("logout failed to load user session, skipped")
			}
			continue
		}
		targets = append(targets, target{
			sessionID: s.ID,
			clientID:  s.ClientID,
			subject:   s.Subject,
		})
	}

	return targets
}
