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

package main

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/ghodss/yaml"
	"github.com/spf13/cobra"
)

// fileConfig is the YAML configuration file of the serve command. Flags
// which are set explicitly take precedence.
type fileConfig struct {
	Listen string `json:"listen"`
	Issuer string `json:"iss"`

	SigningPrivateKeys     []string `json:"signing_private_keys"`
	ValidationKeysPath     string   `json:"validation_keys_path"`
	ConfirmationSigningAlg string   `json:"confirmation_signing_alg"`
	EncryptionSecretFile   string   `json:"encryption_secret"`

	RegistrationConf string `json:"registration_conf"`
	SessionStore     string `json:"session_store"`
	SessionDB        string `json:"session_db"`

	CookieName  string `json:"cookie_name"`
	CookieCodec string `json:"cookie_codec"`

	LogoutVerifyURI       string `json:"logout_verify_uri"`
	PostLogoutPage        string `json:"post_logout_page"`
	MaxParallelDeliveries int    `json:"max_parallel_deliveries"`
	BackChannelTimeout    string `json:"backchannel_timeout"`
	LogoutTimeout         string `json:"logout_timeout"`

	UsersBackend         string   `json:"users_backend"`
	UsersStatic          string   `json:"users_static"`
	IntrospectionRelease []string `json:"introspection_release"`
	AllowedOrigins       []string `json:"allowed_origins"`

	Insecure bool   `json:"insecure"`
	LogLevel string `json:"log_level"`
	LogJSON  bool   `json:"log_json"`
}

func loadFileConfig(fn string) (*fileConfig, error) {
	fc := &fileConfig{}
	if fn == "" {
		return fc, nil
	}

	raw, err := ioutil.ReadFile(fn)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}
	if err = yaml.Unmarshal(raw, fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	return fc, nil
}

type settings struct {
	cmd *cobra.Command
}

func (s *settings) string(name string, fileValue string) string {
	value, _ := s.cmd.Flags().GetString(name)
	if !s.cmd.Flags().Changed(name) && fileValue != "" {
		return fileValue
	}
	return value
}

func (s *settings) strings(name string, fileValue []string) []string {
	value, _ := s.cmd.Flags().GetStringArray(name)
	if !s.cmd.Flags().Changed(name) && len(fileValue) > 0 {
		return fileValue
	}
	return value
}

func (s *settings) bool(name string, fileValue bool) bool {
	value, _ := s.cmd.Flags().GetBool(name)
	if !s.cmd.Flags().Changed(name) && fileValue {
		return true
	}
	return value
}

func (s *settings) int(name string, fileValue int) int {
	value, _ := s.cmd.Flags().GetInt(name)
	if !s.cmd.Flags().Changed(name) && fileValue != 0 {
		return fileValue
	}
	return value
}

func (s *settings) duration(name string, fileValue string) (time.Duration, error) {
	value, _ := s.cmd.Flags().GetDuration(name)
	if !s.cmd.Flags().Changed(name) && fileValue != "" {
		return time.ParseDuration(fileValue)
	}
	return value, nil
}
