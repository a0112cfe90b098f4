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

package signing

import (
	"crypto"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/sirupsen/logrus"
)

// Errors returned by the Manager.
var (
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrNoSigningKey         = errors.New("no signing key")
	ErrUnknownKey           = errors.New("unknown key")
	ErrIssuerMismatch       = errors.New("issuer mismatch")
	ErrAudienceMismatch     = errors.New("audience mismatch")
)

// Config defines a Manager's configuration settings.
type Config struct {
	Issuer string
	Logger logrus.FieldLogger
}

// SigningKey bundles a signer with its key id and signing method.
type SigningKey struct {
	ID     string
	Signer crypto.Signer
	Method jwt.SigningMethod
}

// SignOptions define how a payload is signed.
type SignOptions struct {
	Audience string
	Lifetime time.Duration
	Alg      string
}

// VerifyOptions define how a token is verified.
type VerifyOptions struct {
	// Algs lists the accepted algorithms. If empty, all supported algorithms
	// are accepted.
	Algs []string
	// Audience if set must match the token aud claim.
	Audience string

	SkipClaimsValidation bool
}

// Manager signs and verifies JSON Web Tokens issued by the accociated issuer.
type Manager struct {
	issuer string
	logger logrus.FieldLogger

	mutex          sync.RWMutex
	signingKeys    []*SigningKey
	byAlg          map[string]*SigningKey
	validationKeys map[string]crypto.PublicKey
}

// NewManager creates a new Manager with the provided Config.
func NewManager(c *Config) *Manager {
	return &Manager{
		issuer: c.Issuer,
		logger: c.Logger,

		byAlg:          make(map[string]*SigningKey),
		validationKeys: make(map[string]crypto.PublicKey),
	}
}

// Issuer returns the issuer identifier of the accociated Manager.
func (m *Manager) Issuer() string {
	return m.issuer
}

// AddSigningKey adds the provided signer with the provided kid. If method is
// nil, the default method for the key type is used. The first signing key
// added for an algorithm is used to sign with that algorithm.
func (m *Manager) AddSigningKey(kid string, signer crypto.Signer, method jwt.SigningMethod) error {
	if signer == nil {
		return errors.New("signer is nil")
	}
	if method == nil {
		var err error
		method, err = DefaultSigningMethod(signer.Public())
		if err != nil {
			return err
		}
	}
	if !compatible(signer.Public(), method) {
		return fmt.Errorf("key %s is not compatible with %s", kid, method.Alg())
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.validationKeys[kid]; exists {
		return fmt.Errorf("duplicate kid %s", kid)
	}
	sk := &SigningKey{
		ID:     kid,
		Signer: signer,
		Method: method,
	}
	m.signingKeys = append(m.signingKeys, sk)
	if _, exists := m.byAlg[method.Alg()]; !exists {
		m.byAlg[method.Alg()] = sk
	}
	m.validationKeys[kid] = signer.Public()

	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"kid": kid,
			"alg": method.Alg(),
		}).Debugln("signing key added")
	}

	return nil
}

// AddValidationKey adds the provided public key as additional key which is
// accepted when verifying tokens.
func (m *Manager) AddValidationKey(kid string, key crypto.PublicKey) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.validationKeys[kid]; exists {
		return fmt.Errorf("duplicate kid %s", kid)
	}
	m.validationKeys[kid] = key

	return nil
}

// SupportedAlgs returns the algorithms which the accociated Manager can sign
// with, in the order their keys were added.
func (m *Manager) SupportedAlgs() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	algs := make([]string, 0, len(m.byAlg))
	seen := make(map[string]bool)
	for _, sk := range m.signingKeys {
		alg := sk.Method.Alg()
		if !seen[alg] {
			seen[alg] = true
			algs = append(algs, alg)
		}
	}

	return algs
}

// DefaultAlg returns the algorithm of the first signing key.
func (m *Manager) DefaultAlg() string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if len(m.signingKeys) == 0 {
		return ""
	}
	return m.signingKeys[0].Method.Alg()
}

// IsSupportedAlg returns true if the accociated Manager can sign with the
// provided alg.
func (m *Manager) IsSupportedAlg(alg string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	_, ok := m.byAlg[alg]
	return ok
}

func (m *Manager) signingKey(alg string) (*SigningKey, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if len(m.signingKeys) == 0 {
		return nil, ErrNoSigningKey
	}
	if alg == "" {
		return m.signingKeys[0], nil
	}
	sk, ok := m.byAlg[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}

	return sk, nil
}

// SignClaims signs the provided claims with the key for the provided alg and
// returns the compact serialization.
func (m *Manager) SignClaims(claims jwt.Claims, alg string) (string, error) {
	sk, err := m.signingKey(alg)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(sk.Method, claims)
	token.Header["kid"] = sk.ID

	return token.SignedString(sk.Signer)
}

// Sign adds the registered iss, aud, iat and exp claims to the provided
// payload and signs it as defined by the provided options.
func (m *Manager) Sign(payload map[string]interface{}, opts *SignOptions) (string, error) {
	if opts == nil {
		opts = &SignOptions{}
	}

	now := time.Now()
	claims := jwt.MapClaims{}
	for k, v := range payload {
		claims[k] = v
	}
	claims["iss"] = m.issuer
	claims["iat"] = now.Unix()
	if opts.Audience != "" {
		claims["aud"] = opts.Audience
	}
	if opts.Lifetime != 0 {
		claims["exp"] = now.Add(opts.Lifetime).Unix()
	}

	return m.SignClaims(claims, opts.Alg)
}

// Verify parses the provided token into the provided claims and verifies its
// signature, algorithm, issuer and, if requested, audience. Tokens with an
// algorithm not accepted by the provided options fail with an error wrapping
// ErrUnsupportedAlgorithm.
func (m *Manager) Verify(tokenString string, claims jwt.Claims, opts *VerifyOptions) (*jwt.Token, error) {
	if opts == nil {
		opts = &VerifyOptions{}
	}
	algs := opts.Algs
	if len(algs) == 0 {
		algs = m.SupportedAlgs()
	}

	parser := &jwt.Parser{
		ValidMethods:         algs,
		SkipClaimsValidation: opts.SkipClaimsValidation,
	}

	unverified, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorUnverifiable != 0 {
			// Algorithm not known at all.
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
		}
		return nil, err
	}
	alg, _ := unverified.Header["alg"].(string)
	if !contains(algs, alg) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}

	token, err := parser.ParseWithClaims(tokenString, claims, m.keyFunc)
	if err != nil {
		return nil, err
	}

	if v, ok := claims.(issuerVerifier); ok && !v.VerifyIssuer(m.issuer, true) {
		return nil, ErrIssuerMismatch
	}
	if opts.Audience != "" {
		if v, ok := claims.(audienceVerifier); !ok || !v.VerifyAudience(opts.Audience, true) {
			return nil, ErrAudienceMismatch
		}
	}

	return token, nil
}

func (m *Manager) keyFunc(token *jwt.Token) (interface{}, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if kid, _ := token.Header["kid"].(string); kid != "" {
		key, ok := m.validationKeys[kid]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
		}
		return key, nil
	}

	if sk, ok := m.byAlg[token.Method.Alg()]; ok {
		return sk.Signer.Public(), nil
	}

	return nil, ErrUnknownKey
}

type issuerVerifier interface {
	VerifyIssuer(cmp string, req bool) bool
}

type audienceVerifier interface {
	VerifyAudience(cmp string, req bool) bool
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
