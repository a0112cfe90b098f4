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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/ed25519"
)

// LoadSignerFromFile loads a PKCS#1, SEC 1 or PKCS#8 private key from the PEM
// file at the provided path. The returned kid is derived from the file name.
func LoadSignerFromFile(fn string) (string, crypto.Signer, error) {
	block, err := readPEMBlock(fn)
	if err != nil {
		return "", nil, err
	}

	var signer crypto.Signer
	for {
		pkcs1Key, errParse1 := x509.ParsePKCS1PrivateKey(block.Bytes)
		if errParse1 == nil {
			signer = pkcs1Key
			break
		}

		ecKey, errParse2 := x509.ParseECPrivateKey(block.Bytes)
		if errParse2 == nil {
			signer = ecKey
			break
		}

		pkcs8Key, errParse3 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if errParse3 == nil {
			signerSigner, ok := pkcs8Key.(crypto.Signer)
			if !ok {
				return "", nil, fmt.Errorf("failed to use key as crypto signer")
			}
			signer = signerSigner
			break
		}

		return "", nil, fmt.Errorf("failed to parse key - valid PKCS#1, SEC 1 or PKCS#8? %v, %v, %v", errParse1, errParse2, errParse3)
	}

	return kidFromFilename(fn), signer, nil
}

// LoadValidatorFromFile loads a PKIX public key from the PEM file at the
// provided path. The returned kid is derived from the file name.
func LoadValidatorFromFile(fn string) (string, crypto.PublicKey, error) {
	block, err := readPEMBlock(fn)
	if err != nil {
		return "", nil, err
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse public key: %v", err)
	}

	return kidFromFilename(fn), key, nil
}

// LoadKeys loads all signing keys from the provided path. If the path is a
// directory, all *.pem files found in it are loaded, sorted by name.
func LoadKeys(path string) (map[string]crypto.Signer, []string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed load load keys: %v", err)
	}

	var files []string
	if fi.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.pem"))
		if err != nil {
			return nil, nil, err
		}
	} else {
		files = []string{path}
	}

	signers := make(map[string]crypto.Signer)
	kids := make([]string, 0, len(files))
	for _, fn := range files {
		kid, signer, loadErr := LoadSignerFromFile(fn)
		if loadErr != nil {
			return nil, nil, fmt.Errorf("%s: %v", fn, loadErr)
		}
		signers[kid] = signer
		kids = append(kids, kid)
	}
	if len(signers) == 0 {
		return nil, nil, fmt.Errorf("no keys found in %s", path)
	}

	return signers, kids, nil
}

// DefaultSigningMethod returns the signing method which is used for the
// provided key if nothing else is configured.
func DefaultSigningMethod(key crypto.PublicKey) (jwt.SigningMethod, error) {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return jwt.SigningMethodES256, nil
		case elliptic.P384():
			return jwt.SigningMethodES384, nil
		case elliptic.P521():
			return jwt.SigningMethodES512, nil
		}
		return nil, fmt.Errorf("unsupported ecdsa curve: %s", k.Curve.Params().Name)
	case ed25519.PublicKey:
		return SigningMethodEdDSA, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %T", key)
	}
}

func compatible(key crypto.PublicKey, method jwt.SigningMethod) bool {
	switch key.(type) {
	case *rsa.PublicKey:
		switch method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
			return true
		}
	case *ecdsa.PublicKey:
		_, ok := method.(*jwt.SigningMethodECDSA)
		return ok
	case ed25519.PublicKey:
		_, ok := method.(*SigningMethodEdwardsCurve)
		return ok
	}
	return false
}

func readPEMBlock(fn string) (*pem.Block, error) {
	pemBytes, err := ioutil.ReadFile(fn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file: %v", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	return block, nil
}

func kidFromFilename(fn string) string {
	_, fn = filepath.Split(fn)
	return strings.TrimSuffix(fn, filepath.Ext(fn))
}
