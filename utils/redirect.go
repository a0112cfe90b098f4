/*
 * Copyright 2017-2019 Kopano and its licensors
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

package utils

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-querystring/query"
)

// URLWithQueryParams returns the provided uri with the url encoded values of
// params appended to its query. If params is nil or encodes to nothing, the
// provided uri is returned unchanged.
func URLWithQueryParams(uri string, params interface{}) (string, error) {
	if params == nil {
		return uri, nil
	}

	values, err := query.Values(params)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return uri, nil
	}

	return appendQuery(uri, values), nil
}

func appendQuery(uri string, values url.Values) string {
	u, err := url.Parse(uri)
	if err != nil {
		separator := "?"
		if strings.Contains(uri, separator) {
			// Avoid generating invalid URLs if the separator is already part
			// of the target URL - instead append it in the most likely way.
			separator = "&"
		}
		return uri + separator + encodeQuery(values)
	}

	MergeQuery(u, values)
	return u.String()
}

// MergeQuery adds the provided values to the query of the provided URL,
// keeping its existing query parameters and fragment.
func MergeQuery(u *url.URL, values url.Values) {
	if len(values) == 0 {
		return
	}
	if u.RawQuery == "" {
		u.RawQuery = encodeQuery(values)
	} else {
		u.RawQuery += "&" + encodeQuery(values)
	}
	u.ForceQuery = false
}

func encodeQuery(values url.Values) string {
	return strings.Replace(values.Encode(), "+", "%20", -1) // NOTE(longsleep): Ensure we use %20 instead of +.
}

// WriteRedirect writes a HTTP response with the provided HTTP status code and
// the provided uri as Location to the provided http.ResponseWriter including
// HTTP caching headers to prevent caching. If params is not nil, its encoded
// values are added to the query of uri.
func WriteRedirect(rw http.ResponseWriter, code int, uri string, params interface{}) error {
	target, err := URLWithQueryParams(uri, params)
	if err != nil {
		return err
	}

	rw.Header().Set("Location", target)
	rw.Header().Set("Cache-Control", "no-store")
	rw.Header().Set("Pragma", "no-cache")

	rw.WriteHeader(code)

	return nil
}
