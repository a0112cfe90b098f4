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

package payload

import (
	"reflect"
	"strconv"

	"github.com/gorilla/schema"
)

var decoder = schema.NewDecoder()

// DecodeSchema decodes request form data into the provided dst schema struct.
// Unknown keys are ignored and empty values reset the target field.
func DecodeSchema(dst interface{}, src map[string][]string) error {
	return decoder.Decode(dst, src)
}

// convertFormBool accepts the values submitted by HTML checkboxes in
// addition to the values understood by strconv.ParseBool.
func convertFormBool(value string) reflect.Value {
	switch value {
	case "on", "yes":
		return reflect.ValueOf(true)
	case "", "off", "no":
		return reflect.ValueOf(false)
	}
	if v, err := strconv.ParseBool(value); err == nil {
		return reflect.ValueOf(v)
	}
	return reflect.Value{}
}

func init() {
	decoder.IgnoreUnknownKeys(true)
	decoder.ZeroEmpty(true)
	decoder.RegisterConverter(false, convertFormBool)
}
