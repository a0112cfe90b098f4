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

package payload

import (
	"errors"
	"net/http"
	"net/url"
)

// ConfirmRequest holds the parameters submitted when the End-User confirms a
// logout which was previously requested with an EndSessionRequest.
type ConfirmRequest struct {
	RawConfirmationToken string `schema:"sjwt"`
	LogoutAll            bool   `schema:"logout_all"`
}

// DecodeConfirmRequest returns a ConfirmRequest holding the provided requests
// form data.
func DecodeConfirmRequest(req *http.Request) (*ConfirmRequest, error) {
	return NewConfirmRequest(req.PostForm)
}

// NewConfirmRequest returns a ConfirmRequest holding the provided url values.
func NewConfirmRequest(values url.Values) (*ConfirmRequest, error) {
	cr := &ConfirmRequest{}
	err := DecodeSchema(cr, values)
	if err != nil {
		return nil, err
	}

	return cr, nil
}

// Validate validates the request data of the accociated confirm request.
func (cr *ConfirmRequest) Validate() error {
	if cr.RawConfirmationToken == "" {
		return errors.New("sjwt is required")
	}

	return nil
}
