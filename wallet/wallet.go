// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package wallet provides deterministic address derivation from a master
// seed and one-time claim address generation. Derivation is pure: the same
// seed, subject, and purpose always yield the same address, so identity
// checks never require storing private material.
package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	// MinSeedLen is the minimum accepted master seed length in bytes
	MinSeedLen = 16
	// AddressLen is the length of a derived address in bytes (hex-encoded
	// to twice this length)
	AddressLen = 28
	// ActivationCodeLen is the length of a claim activation code in bytes
	ActivationCodeLen = 32
)

var (
	// ErrMalformedSeed is returned for seed material below the minimum
	// length. This is fatal, not retryable.
	ErrMalformedSeed = errors.New("malformed seed material")
	ErrEmptySubject  = errors.New("empty derivation subject")
)

// Purpose namespaces derived addresses so a node address can never collide
// with a user wallet address for the same subject string
type Purpose uint8

const (
	PurposeUser      Purpose = 1
	PurposeNodeOwner Purpose = 2
	PurposeValidator Purpose = 3
	PurposeCharity   Purpose = 4
	PurposeOperator  Purpose = 5
)

func (p Purpose) String() string {
	switch p {
	case PurposeUser:
		return "user"
	case PurposeNodeOwner:
		return "node-owner"
	case PurposeValidator:
		return "validator"
	case PurposeCharity:
		return "charity"
	case PurposeOperator:
		return "operator"
	default:
		return fmt.Sprintf("unknown (%d)", p)
	}
}

// Address is a hex-encoded derived public address
type Address string

// DeriveAddress deterministically derives an address for the given subject
// (a node ID or user ID) under the given purpose namespace. The seed is
// used as a MAC key, so addresses cannot be forged or reversed without it.
func DeriveAddress(
	seed []byte,
	subject string,
	purpose Purpose,
) (Address, error) {
	if len(seed) < MinSeedLen {
		return "", ErrMalformedSeed
	}
	if subject == "" {
		return "", ErrEmptySubject
	}
	h, err := blake2b.New(AddressLen, seed)
	if err != nil {
		return "", fmt.Errorf("seed rejected by hash init: %w", err)
	}
	h.Write([]byte{byte(purpose)})
	h.Write([]byte(subject))
	return Address(hex.EncodeToString(h.Sum(nil))), nil
}

// GenerateClaimAddress produces a one-time claim address and its activation
// code for a sale. The address is derived from the random code rather than
// the master seed, so it cannot be linked to any other address. The caller
// stores only HashActivationCode(code); the code itself is handed to the
// buyer exactly once.
func GenerateClaimAddress(saleId string) (Address, string, error) {
	if saleId == "" {
		return "", "", ErrEmptySubject
	}
	code := make([]byte, ActivationCodeLen)
	if _, err := rand.Read(code); err != nil {
		return "", "", fmt.Errorf("failed to generate activation code: %w", err)
	}
	h, err := blake2b.New(AddressLen, nil)
	if err != nil {
		return "", "", err
	}
	h.Write(code)
	h.Write([]byte(saleId))
	addr := Address(hex.EncodeToString(h.Sum(nil)))
	return addr, hex.EncodeToString(code), nil
}

// HashActivationCode returns the hex-encoded digest stored in place of an
// activation code. A leaked ledger never discloses redeemable secrets.
func HashActivationCode(code string) string {
	codeHash := blake2b.Sum256([]byte(code))
	return hex.EncodeToString(codeHash[:])
}
