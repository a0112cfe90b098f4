/*
 * Copyright 2017-2019 Kopano and its licensors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package main

import (
	"bytes"
	"crypto"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/spf13/cobra"
	"gopkg.in/square/go-jose.v2"

	"stash.kopano.io/kc/klogout/signing"
)

func commandJwkFromPem() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jwk-from-pem [key.pem]...",
		Short: "Create JSON Web Key from PEM key file",
		Long:  "Create JSON Web Key from PEM key file. Use it to add a private_key_jwt client key to the client registration or to publish provider keys.",
		Run: func(cmd *cobra.Command, args []string) {
			if err := jwkFromPem(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().String("kid", "", "Key ID kid (default: file name, only with a single file)")
	cmd.Flags().String("use", "sig", "Key usage use (required)")
	cmd.Flags().Bool("public", false, "Output only the public part of private keys")
	cmd.Flags().Bool("set", false, "Output a JSON Web Key Set holding all keys")
	cmd.Flags().Bool("yaml", false, "Output JWK as YAML")

	return cmd
}

func loadJWK(fn string, kid string, use string, public bool) (*jose.JSONWebKey, error) {
	var key interface{}
	var method string

	signerKid, signer, err := signing.LoadSignerFromFile(fn)
	if err == nil {
		if kid == "" {
			kid = signerKid
		}
		key = signer
		if public {
			key = signer.Public()
		}
		if m, methodErr := signing.DefaultSigningMethod(signer.Public()); methodErr == nil {
			method = m.Alg()
		}
	} else {
		validatorKid, validator, validatorErr := signing.LoadValidatorFromFile(fn)
		if validatorErr != nil {
			return nil, fmt.Errorf("failed to load pem file %s: %v", fn, validatorErr)
		}
		if kid == "" {
			kid = validatorKid
		}
		key = validator
		if m, methodErr := signing.DefaultSigningMethod(crypto.PublicKey(validator)); methodErr == nil {
			method = m.Alg()
		}
	}

	jwk := &jose.JSONWebKey{Key: key, KeyID: kid, Use: use, Algorithm: method}
	if !jwk.Valid() {
		return nil, fmt.Errorf("parsed key %s is not valid", fn)
	}

	return jwk, nil
}

func jwkFromPem(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		cmd.Help()
		os.Exit(2)
	}

	kid, _ := cmd.Flags().GetString("kid")
	use, _ := cmd.Flags().GetString("use")
	public, _ := cmd.Flags().GetBool("public")
	asSet, _ := cmd.Flags().GetBool("set")
	asYaml, _ := cmd.Flags().GetBool("yaml")

	if kid != "" && len(args) > 1 {
		return fmt.Errorf("kid can only be given with a single key file")
	}
	if len(args) > 1 && !asSet {
		return fmt.Errorf("multiple key files require --set")
	}

	set := &jose.JSONWebKeySet{}
	for _, fn := range args {
		jwk, err := loadJWK(fn, kid, use, public)
		if err != nil {
			return err
		}
		set.Keys = append(set.Keys, *jwk)
	}

	var output interface{} = set.Keys[0]
	if asSet {
		output = set
	}
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("error marshaling key as JSON: %v", err)
	}

	if asYaml {
		outputYAML, yamlErr := yaml.JSONToYAML(outputJSON)
		if yamlErr != nil {
			return fmt.Errorf("error marshalling key as YAML: %v", yamlErr)
		}
		fmt.Println(string(outputYAML))
		return nil
	}

	var prettyJSON bytes.Buffer
	if err = json.Indent(&prettyJSON, outputJSON, "", "\t"); err != nil {
		return fmt.Errorf("error marshalling key as pretty JSON: %v", err)
	}
	fmt.Println(prettyJSON.String())

	return nil
}
