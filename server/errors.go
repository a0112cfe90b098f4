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
	"net/http"

	"stash.kopano.io/kc/klogout/logout"
	"stash.kopano.io/kc/klogout/oidc"
	"stash.kopano.io/kc/klogout/utils"
)

var kindStatusCodes = map[logout.Kind]int{
	logout.KindInternal:             http.StatusInternalServerError,
	logout.KindAuthenticationFailed: http.StatusUnauthorized,
}

// StatusForKind returns the HTTP status code which is used to respond to
// errors of the provided kind.
func StatusForKind(kind logout.Kind) int {
	if code, ok := kindStatusCodes[kind]; ok {
		return code
	}
	return http.StatusBadRequest
}

func (s *Server) writeLogoutError(rw http.ResponseWriter, err error) {
	kind := logout.KindOf(err)
	code := StatusForKind(kind)

	logger := s.logger.WithFields(utils.ErrorAsFields(err))
	if code >= http.StatusInternalServerError {
		logger.Errorln("end session failed")
	} else {
		logger.Debugln("end session rejected")
	}

	var description string
	if logoutErr, ok := err.(*logout.Error); ok {
		description = logoutErr.Description()
	}
	if code == http.StatusUnauthorized {
		oidc.WriteWWWAuthenticateError(rw, code, oidc.NewOAuth2Error(oidc.ErrorCodeOAuth2InvalidClient, description))
		return
	}
	utils.WriteErrorPage(rw, code, kind.String(), description)
}

func (s *Server) writeOAuth2Error(rw http.ResponseWriter, code int, id string, description string) {
	err := utils.WriteJSON(rw, code, oidc.NewOAuth2Error(id, description), "")
	if err != nil {
		s.logger.WithError(err).Errorln("failed to write error response")
	}
}
