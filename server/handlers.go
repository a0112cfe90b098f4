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
	"html/template"
	"net/http"
	"strings"

	"stash.kopano.io/kc/klogout/clientauth"
	"stash.kopano.io/kc/klogout/logout"
	"stash.kopano.io/kc/klogout/oidc"
	"stash.kopano.io/kc/klogout/oidc/payload"
	"stash.kopano.io/kc/klogout/utils"
)

// HealthCheckHandler a http handler return 200 OK when server health is fine.
func (s *Server) HealthCheckHandler(rw http.ResponseWriter, req *http.Request) {
	rw.WriteHeader(http.StatusOK)
}

// EndSessionHandler implements the HTTP endpoint for OpenID Connect
// RP-Initiated Logout as specified at
// https://openid.net/specs/openid-connect-rpinitiated-1_0.html#RPLogout
//
// A valid request is answered with a confirmation token which must be
// submitted to the ConfirmHandler to actually log out.
func (s *Server) EndSessionHandler(rw http.ResponseWriter, req *http.Request) {
	rw.Header().Set("Cache-Control", "no-store")
	rw.Header().Set("Pragma", "no-cache")

	err := req.ParseForm()
	if err != nil {
		utils.WriteErrorPage(rw, http.StatusBadRequest, oidc.ErrorCodeOAuth2InvalidRequest, err.Error())
		return
	}
	esr, err := payload.DecodeEndSessionRequest(req)
	if err != nil {
		utils.WriteErrorPage(rw, http.StatusBadRequest, oidc.ErrorCodeOAuth2InvalidRequest, err.Error())
		return
	}

	var creds *clientauth.Credentials
	if req.Method == http.MethodPost {
		creds = clientauth.CredentialsFromRequest(req)
	}

	r, err := s.engine.ParseRequest(req.Context(), esr, creds, strings.Join(req.Header.Values("Cookie"), "; "))
	if err != nil {
		s.writeLogoutError(rw, err)
		return
	}

	token, err := s.engine.IssueConfirmation(r)
	if err != nil {
		s.writeLogoutError(rw, err)
		return
	}

	if s.logoutVerifyURI != "" {
		err = utils.WriteRedirect(rw, http.StatusFound, s.logoutVerifyURI, &struct {
			ConfirmationToken string `url:"sjwt"`
		}{token})
		if err != nil {
			utils.WriteErrorPage(rw, http.StatusInternalServerError, "", err.Error())
		}
		return
	}

	data := &confirmPageData{
		Action: DefaultConfirmPath,
		Token:  token,
	}
	if r.Client != nil {
		data.ClientName = r.Client.Name
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	if err = confirmPage.Execute(rw, data); err != nil {
		s.logger.WithError(err).Errorln("failed to render confirmation page")
	}
}

// ConfirmHandler completes a logout with the confirmation token issued by
// the EndSessionHandler.
func (s *Server) ConfirmHandler(rw http.ResponseWriter, req *http.Request) {
	rw.Header().Set("Cache-Control", "no-store")
	rw.Header().Set("Pragma", "no-cache")

	err := req.ParseForm()
	if err != nil {
		utils.WriteErrorPage(rw, http.StatusBadRequest, oidc.ErrorCodeOAuth2InvalidRequest, err.Error())
		return
	}
	cr, err := payload.DecodeConfirmRequest(req)
	if err == nil {
		err = cr.Validate()
	}
	if err != nil {
		utils.WriteErrorPage(rw, http.StatusBadRequest, oidc.ErrorCodeOAuth2InvalidRequest, err.Error())
		return
	}

	scope := logout.SingleClient
	if cr.LogoutAll {
		scope = logout.AllClients
	}

	result, err := s.engine.Logout(req.Context(), cr.RawConfirmationToken, scope)
	if err != nil {
		s.writeLogoutError(rw, err)
		return
	}

	if s.cookies != nil {
		s.cookies.Remove(rw)
	}

	if len(result.FrontChannelIframes) == 0 {
		if err = utils.WriteRedirect(rw, http.StatusFound, result.RedirectTarget, nil); err != nil {
			utils.WriteErrorPage(rw, http.StatusInternalServerError, "", err.Error())
		}
		return
	}

	data := &loggedOutPageData{
		RedirectTarget: result.RedirectTarget,
	}
	for _, iframe := range result.FrontChannelIframes {
		// Iframes are built with escaped attribute values.
		data.Iframes = append(data.Iframes, template.HTML(iframe))
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	if err = loggedOutPage.Execute(rw, data); err != nil {
		s.logger.WithError(err).Errorln("failed to render logged out page")
	}
}

// IntrospectionHandler implements the HTTP endpoint for OAuth 2.0 Token
// Introspection as specified at https://tools.ietf.org/html/rfc7662
func (s *Server) IntrospectionHandler(rw http.ResponseWriter, req *http.Request) {
	err := req.ParseForm()
	if err != nil {
		s.writeOAuth2Error(rw, http.StatusBadRequest, oidc.ErrorCodeOAuth2InvalidRequest, err.Error())
		return
	}

	if s.clientAuthenticator != nil {
		_, authErr := s.clientAuthenticator.Authenticate(req.Context(), clientauth.CredentialsFromRequest(req))
		if authErr != nil {
			s.logger.WithError(authErr).Debugln("introspection client authentication failed")
			oidc.WriteWWWAuthenticateError(rw, http.StatusUnauthorized, oidc.NewOAuth2Error(oidc.ErrorCodeOAuth2InvalidClient, "client authentication failed"))
			return
		}
	}

	ir, err := payload.DecodeIntrospectionRequest(req)
	if err == nil {
		err = ir.Validate()
	}
	if err != nil {
		s.writeOAuth2Error(rw, http.StatusBadRequest, oidc.ErrorCodeOAuth2InvalidRequest, err.Error())
		return
	}

	response := s.introspector.Introspect(req.Context(), ir.Token)
	if err = utils.WriteJSON(rw, http.StatusOK, response, ""); err != nil {
		s.logger.WithError(err).Errorln("failed to write introspection response")
	}
}

// JWKSHandler publishes the public keys of the provider as JSON Web Key Set.
func (s *Server) JWKSHandler(rw http.ResponseWriter, req *http.Request) {
	err := utils.WriteJSON(rw, http.StatusOK, s.tokens.JWKS(), "application/jwk-set+json")
	if err != nil {
		s.logger.WithError(err).Errorln("failed to write jwks response")
	}
}
