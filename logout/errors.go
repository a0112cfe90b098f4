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
	"errors"
	"fmt"
)

// Kind classifies logout errors so the transport can choose a response.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindMalformedRequest
	KindAuthenticationFailed
	KindUnsupportedSigningAlgorithm
	KindSessionMismatch
	KindUnknownSession
	KindUnknownClient
	KindUnregisteredRedirectURI
	KindSignatureVerificationFailure
	KindDeliveryFailure
)

var kindNames = map[Kind]string{
	KindInternal:                     "internal",
	KindMalformedRequest:             "malformed_request",
	KindAuthenticationFailed:         "authentication_failed",
	KindUnsupportedSigningAlgorithm:  "unsupported_signing_algorithm",
	KindSessionMismatch:              "session_mismatch",
	KindUnknownSession:               "unknown_session",
	KindUnknownClient:                "unknown_client",
	KindUnregisteredRedirectURI:      "unregistered_redirect_uri",
	KindSignatureVerificationFailure: "signature_verification_failure",
	KindDeliveryFailure:              "delivery_failure",
}

// String implements the fmt.Stringer interface.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the error type returned by the Engine.
type Error struct {
	Kind Kind

	description string
	err         error
}

func newError(kind Kind, description string, err error) *Error {
	return &Error{
		Kind:        kind,
		description: description,
		err:         err,
	}
}

// Error implements the error interface.
func (err *Error) Error() string {
	if err.err != nil {
		return fmt.Sprintf("%s: %s: %v", err.Kind, err.description, err.err)
	}
	return fmt.Sprintf("%s: %s", err.Kind, err.description)
}

// Description implements the utils.ErrorWithDescription interface.
func (err *Error) Description() string {
	return err.description
}

// Unwrap returns the wrapped cause.
func (err *Error) Unwrap() error {
	return err.err
}

// KindOf returns the Kind of the provided error. Errors not created by this
// package are KindInternal.
func KindOf(err error) Kind {
	var logoutErr *Error
	if errors.As(err, &logoutErr) {
		return logoutErr.Kind
	}
	return KindInternal
}
