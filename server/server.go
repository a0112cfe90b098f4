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
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/klogout/config"
	"stash.kopano.io/kc/klogout/cookie"
	"stash.kopano.io/kc/klogout/introspection"
	"stash.kopano.io/kc/klogout/logout"
	"stash.kopano.io/kc/klogout/signing"
)

const shutdownTimeout = 10 * time.Second

// Server is our HTTP server implementation.
type Server struct {
	config *config.Config
	logger logrus.FieldLogger

	engine              *logout.Engine
	introspector        *introspection.Introspector
	clientAuthenticator logout.ClientAuthenticator
	tokens              *signing.Manager
	cookies             *cookie.Dealer

	logoutVerifyURI string

	mux http.Handler
}

// NewServer constructs a server from the provided parameters.
func NewServer(c *Config) (*Server, error) {
	switch {
	case c.Config == nil || c.Config.Logger == nil:
		return nil, errors.New("config with logger is required")
	case c.Engine == nil:
		return nil, errors.New("logout engine is required")
	case c.Tokens == nil:
		return nil, errors.New("token manager is required")
	}

	s := &Server{
		config: c.Config,
		logger: c.Config.Logger,

		engine:              c.Engine,
		introspector:        c.Introspector,
		clientAuthenticator: c.ClientAuthenticator,
		tokens:              c.Tokens,
		cookies:             c.Cookies,

		logoutVerifyURI: c.LogoutVerifyURI,
	}

	router := mux.NewRouter()
	s.AddRoutes(router)
	s.mux = router

	return s, nil
}

// AddRoutes add the accociated Servers URL paths to the provided router.
func (s *Server) AddRoutes(router *mux.Router) {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
		},
		AllowedHeaders: []string{
			"Authorization",
			"Content-Type",
		},
	})

	router.HandleFunc(DefaultHealthCheckPath, s.HealthCheckHandler).Methods(http.MethodGet)
	router.HandleFunc(DefaultEndSessionPath, s.EndSessionHandler).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc(DefaultConfirmPath, s.ConfirmHandler).Methods(http.MethodPost)
	router.Handle(DefaultJWKSPath, corsHandler.Handler(http.HandlerFunc(s.JWKSHandler))).Methods(http.MethodGet, http.MethodOptions)
	if s.introspector != nil {
		router.Handle(DefaultIntrospectionPath, corsHandler.Handler(http.HandlerFunc(s.IntrospectionHandler))).Methods(http.MethodPost, http.MethodOptions)
	}
	if s.config.Metrics != nil {
		router.Handle(DefaultMetricsPath, promhttp.HandlerFor(s.config.Metrics, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// ServeHTTP implements the http.HandlerFunc interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve starts all the accociated servers resources and listeners and blocks
// forever until the provided context is done or an error occurs.
func (s *Server) Serve(ctx context.Context) error {
	serveCtx, serveCtxCancel := context.WithCancel(ctx)
	defer serveCtxCancel()

	srv := &http.Server{
		Handler: s,
		BaseContext: func(net.Listener) context.Context {
			return serveCtx
		},
	}

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
		close(errCh)
	}()
	s.logger.WithField("listen_addr", s.config.ListenAddr).Infoln("ready to handle requests")

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			s.logger.WithError(err).Errorln("server failed")
			return err
		}
	}

	s.logger.Infoln("shutting down")
	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCtxCancel()
	if err = srv.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Warnln("server shutdown incomplete")
	}

	return nil
}
