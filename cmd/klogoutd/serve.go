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

package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"stash.kopano.io/kgol/rndm"

	"stash.kopano.io/kc/klogout/clientauth"
	"stash.kopano.io/kc/klogout/config"
	"stash.kopano.io/kc/klogout/cookie"
	"stash.kopano.io/kc/klogout/encryption"
	"stash.kopano.io/kc/klogout/identity/clients"
	"stash.kopano.io/kc/klogout/identity/users"
	"stash.kopano.io/kc/klogout/introspection"
	"stash.kopano.io/kc/klogout/logout"
	"stash.kopano.io/kc/klogout/server"
	"stash.kopano.io/kc/klogout/session"
	"stash.kopano.io/kc/klogout/session/managers"
	"stash.kopano.io/kc/klogout/signing"
	"stash.kopano.io/kc/klogout/utils"
)

const (
	defaultListenAddr = "127.0.0.1:8778"
	defaultIssuer     = "http://localhost:8778"
)

func commandServe() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve [...args]",
		Short: "Start server and listen for requests",
		Run: func(cmd *cobra.Command, args []string) {
			if err := serve(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	serveCmd.Flags().String("config", envOrDefault("CONFIG", ""), "Path to YAML configuration file")
	serveCmd.Flags().String("listen", envOrDefault("LISTEN", defaultListenAddr), "TCP listen address")
	serveCmd.Flags().String("iss", envOrDefault("ISS", defaultIssuer), "OIDC issuer URL")
	serveCmd.Flags().StringArray("signing-private-key", listEnvArg("SIGNING_PRIVATE_KEY"), "Full path to PEM encoded private key file or directory used to sign tokens (can be used multiple times, first key is default)")
	serveCmd.Flags().String("validation-keys-path", envOrDefault("VALIDATION_KEYS_PATH", ""), "Full path to a folder containing PEM encoded public or private keys for token validation")
	serveCmd.Flags().String("confirmation-signing-alg", envOrDefault("CONFIRMATION_SIGNING_ALG", ""), "JWT signing algorithm of logout confirmations (default: algorithm of first signing key)")
	serveCmd.Flags().String("encryption-secret", envOrDefault("ENCRYPTION_SECRET", ""), fmt.Sprintf("Full path to a file containing the cookie encryption secret (%d bytes)", encryption.KeySize))
	serveCmd.Flags().String("registration-conf", envOrDefault("REGISTRATION_CONF", ""), "Path to a client registration YAML configuration file")
	serveCmd.Flags().String("session-store", envOrDefault("SESSION_STORE", "memory"), "Session store, one of memory or sqlite")
	serveCmd.Flags().String("session-db", envOrDefault("SESSION_DB", "klogout.db"), "Path to the SQLite session database")
	serveCmd.Flags().String("cookie-name", envOrDefault("COOKIE_NAME", cookie.DefaultCookieName), "Name of the session cookie")
	serveCmd.Flags().String("cookie-codec", envOrDefault("COOKIE_CODEC", "secretbox"), "Session cookie codec, one of secretbox or securecookie")
	serveCmd.Flags().String("logout-verify-uri", envOrDefault("LOGOUT_VERIFY_URI", ""), "Custom page which asks the End-User to confirm a logout")
	serveCmd.Flags().String("post-logout-page", envOrDefault("POST_LOGOUT_PAGE", ""), "Redirect target after logout without post_logout_redirect_uri (default: issuer)")
	serveCmd.Flags().Int("max-parallel-deliveries", logout.DefaultMaxParallelDeliveries, "Maximum number of concurrent back-channel logout deliveries")
	serveCmd.Flags().Duration("backchannel-timeout", logout.DefaultBackChannelTimeout, "Timeout of a single back-channel logout delivery")
	serveCmd.Flags().Duration("logout-timeout", logout.DefaultLogoutTimeout, "Timeout for notifying all relying parties of a confirmed logout")
	serveCmd.Flags().String("users-backend", envOrDefault("USERS_BACKEND", ""), "User directory for introspection, one of static or ldap")
	serveCmd.Flags().String("users-static", envOrDefault("USERS_STATIC", ""), "Path to the static user directory YAML file")
	serveCmd.Flags().StringArray("introspection-release", listEnvArg("INTROSPECTION_RELEASE"), "Additional introspection response members to release (can be used multiple times)")
	serveCmd.Flags().StringArray("allowed-origins", listEnvArg("ALLOWED_ORIGINS"), "Allowed CORS origins for introspection and jwks endpoints (can be used multiple times)")
	serveCmd.Flags().Bool("insecure", boolEnvArg("INSECURE"), "Disable TLS certificate and hostname validation, allow insecure cookies")
	serveCmd.Flags().String("log-level", envOrDefault("LOG_LEVEL", "info"), "Log level (one of panic, fatal, error, warn, info or debug)")
	serveCmd.Flags().Bool("log-timestamp", true, "Prefix each log line with timestamp")
	serveCmd.Flags().Bool("log-json", boolEnvArg("LOG_JSON"), "Log as JSON")

	return serveCmd
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configFn, _ := cmd.Flags().GetString("config")
	fc, err := loadFileConfig(configFn)
	if err != nil {
		return err
	}
	s := &settings{cmd: cmd}

	logTimestamp, _ := cmd.Flags().GetBool("log-timestamp")
	logger, err := newLogger(!logTimestamp, s.string("log-level", fc.LogLevel), s.bool("log-json", fc.LogJSON))
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}
	logger.Infoln("serve start")

	issuer := strings.TrimSuffix(s.string("iss", fc.Issuer), "/")
	insecure := s.bool("insecure", fc.Insecure)

	cfg := &config.Config{
		ListenAddr:     s.string("listen", fc.Listen),
		Logger:         logger,
		Metrics:        prometheus.NewRegistry(),
		AllowedOrigins: s.strings("allowed-origins", fc.AllowedOrigins),
	}
	cfg.Metrics.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	var tlsClientConfig *tls.Config
	if insecure {
		tlsClientConfig = utils.InsecureSkipVerifyTLSConfig()
		logger.Warnln("insecure mode, TLS client connections are susceptible to man-in-the-middle attacks")
	}
	cfg.HTTPTransport = utils.HTTPTransportWithTLSClientConfig(tlsClientConfig)

	tokens, err := setupTokens(issuer, s.strings("signing-private-key", fc.SigningPrivateKeys), s.string("validation-keys-path", fc.ValidationKeysPath), logger)
	if err != nil {
		return err
	}

	cookies, err := setupCookies(s.string("encryption-secret", fc.EncryptionSecretFile), s.string("cookie-name", fc.CookieName), s.string("cookie-codec", fc.CookieCodec), insecure, logger)
	if err != nil {
		return err
	}

	registry, err := clients.NewRegistry(ctx, s.string("registration-conf", fc.RegistrationConf), logger)
	if err != nil {
		return fmt.Errorf("failed to create client registry: %v", err)
	}

	var sessions session.Store
	switch store := s.string("session-store", fc.SessionStore); store {
	case "memory":
		sessions = managers.NewMemoryMapManager(ctx)
		logger.Warnln("using memory session store, sessions are lost on restart")
	case "sqlite":
		sqliteManager, sqliteErr := managers.NewSQLiteManager(ctx, s.string("session-db", fc.SessionDB))
		if sqliteErr != nil {
			return sqliteErr
		}
		defer sqliteManager.Close()
		sessions = sqliteManager
		logger.WithField("db", s.string("session-db", fc.SessionDB)).Infoln("using sqlite session store")
	default:
		return fmt.Errorf("unknown session store: %v", store)
	}

	authenticator := clientauth.New(&clientauth.Config{
		Clients: registry,
		Audiences: []string{
			issuer,
			issuer + server.DefaultEndSessionPath,
			issuer + server.DefaultIntrospectionPath,
		},
		Logger: logger,
	})

	backChannelTimeout, err := s.duration("backchannel-timeout", fc.BackChannelTimeout)
	if err != nil {
		return fmt.Errorf("invalid backchannel-timeout: %v", err)
	}
	logoutTimeout, err := s.duration("logout-timeout", fc.LogoutTimeout)
	if err != nil {
		return fmt.Errorf("invalid logout-timeout: %v", err)
	}
	engine, err := logout.NewEngine(&logout.Config{
		SessionStore:        sessions,
		Clients:             registry,
		Tokens:              tokens,
		Cookies:             cookies,
		ClientAuthenticator: authenticator,

		ConfirmationSigningAlg: s.string("confirmation-signing-alg", fc.ConfirmationSigningAlg),
		PostLogoutPage:         s.string("post-logout-page", fc.PostLogoutPage),

		BackChannelClient:     utils.NewHTTPClient(cfg.HTTPTransport, backChannelTimeout),
		MaxParallelDeliveries: s.int("max-parallel-deliveries", fc.MaxParallelDeliveries),
		LogoutTimeout:         logoutTimeout,

		Logger:  logger,
		Metrics: logout.NewMetrics(cfg.Metrics),
	})
	if err != nil {
		return fmt.Errorf("failed to create logout engine: %v", err)
	}

	directory, err := setupUsers(s.string("users-backend", fc.UsersBackend), s.string("users-static", fc.UsersStatic), tlsClientConfig, logger)
	if err != nil {
		return err
	}
	var releaseUsername bool
	for _, member := range s.strings("introspection-release", fc.IntrospectionRelease) {
		switch member {
		case "username":
			if directory == nil {
				return fmt.Errorf("introspection release of username requires a users backend")
			}
			releaseUsername = true
		default:
			return fmt.Errorf("unknown introspection release member: %v", member)
		}
	}

	srv, err := server.NewServer(&server.Config{
		Config: cfg,

		Engine: engine,
		Introspector: introspection.New(&introspection.Config{
			Tokens:          tokens,
			Users:           directory,
			ReleaseUsername: releaseUsername,
			Logger:          logger,
			Metrics:         introspection.NewMetrics(cfg.Metrics),
		}),
		ClientAuthenticator: authenticator,
		Tokens:              tokens,
		Cookies:             cookies,

		LogoutVerifyURI: s.string("logout-verify-uri", fc.LogoutVerifyURI),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"iss":     issuer,
		"clients": len(registry.IDs()),
		"algs":    tokens.SupportedAlgs(),
	}).Infoln("serve started")
	return srv.Serve(ctx)
}

func setupTokens(issuer string, signingKeyPaths []string, validationKeysPath string, logger logrus.FieldLogger) (*signing.Manager, error) {
	tokens := signing.NewManager(&signing.Config{
		Issuer: issuer,
		Logger: logger,
	})

	for _, path := range signingKeyPaths {
		logger.WithField("path", path).Infoln("loading signing keys")
		signers, kids, err := signing.LoadKeys(path)
		if err != nil {
			return nil, err
		}
		for _, kid := range kids {
			if err = tokens.AddSigningKey(kid, signers[kid], nil); err != nil {
				return nil, err
			}
		}
	}
	if len(signingKeyPaths) == 0 {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to create random RSA key: %v", err)
		}
		if err = tokens.AddSigningKey("default", key, nil); err != nil {
			return nil, err
		}
		logger.Warnln("missing --signing-private-key parameter, using random RSA signing key")
	}

	if validationKeysPath != "" {
		files, err := filepath.Glob(filepath.Join(validationKeysPath, "*.pem"))
		if err != nil {
			return nil, err
		}
		for _, fn := range files {
			kid, key, loadErr := signing.LoadValidatorFromFile(fn)
			if loadErr != nil {
				logger.WithError(loadErr).WithField("file", fn).Warnln("skipped invalid validation key")
				continue
			}
			if err = tokens.AddValidationKey(kid, key); err != nil {
				logger.WithError(err).WithField("kid", kid).Warnln("skipped validation key")
			}
		}
	}

	return tokens, nil
}

func setupCookies(secretFn string, name string, codecName string, insecure bool, logger logrus.FieldLogger) (*cookie.Dealer, error) {
	var secret []byte
	if secretFn != "" {
		raw, err := ioutil.ReadFile(secretFn)
		if err != nil {
			return nil, fmt.Errorf("failed to read encryption secret: %v", err)
		}
		secret = raw
		if len(secret) > encryption.KeySize {
			secret = secret[:encryption.KeySize]
		}
	} else {
		logger.Warnln("missing --encryption-secret parameter, using random encryption secret")
		secret = rndm.GenerateRandomBytes(encryption.KeySize)
	}

	var codec cookie.Codec
	switch codecName {
	case "secretbox":
		encryptionManager, err := encryption.NewManager(secret)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption secret: %v", err)
		}
		codec = cookie.NewSecretboxCodec(encryptionManager)
	case "securecookie":
		if len(secret) != encryption.KeySize {
			return nil, fmt.Errorf("invalid encryption secret size: %d", len(secret))
		}
		codec = cookie.NewSecureCookieCodec(secret, secret, 0)
	default:
		return nil, fmt.Errorf("unknown cookie codec: %v", codecName)
	}

	return cookie.NewDealer(&cookie.Config{
		Name:     name,
		Insecure: insecure,
		Codec:    codec,
		Logger:   logger,
	})
}

func setupUsers(backend string, staticFn string, tlsConfig *tls.Config, logger logrus.FieldLogger) (users.Directory, error) {
	switch backend {
	case "":
		return nil, nil
	case "static":
		return users.NewStaticDirectory(staticFn, logger)
	case "ldap":
		return users.NewLDAPDirectory(&users.LDAPConfig{
			URI:          os.Getenv("LDAP_URI"),
			BindDN:       os.Getenv("LDAP_BINDDN"),
			BindPassword: os.Getenv("LDAP_BINDPW"),
			BaseDN:       os.Getenv("LDAP_BASEDN"),
			Scope:        os.Getenv("LDAP_SCOPE"),
			Filter:       os.Getenv("LDAP_FILTER"),

			SubjectAttribute: os.Getenv("LDAP_SUBJECT_ATTRIBUTE"),
			LoginAttribute:   os.Getenv("LDAP_LOGIN_ATTRIBUTE"),

			TLSConfig: tlsConfig,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("unknown users backend: %v", backend)
	}
}

