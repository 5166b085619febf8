// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package auth decodes and verifies the signed authentication
// assertion the login server leaves in the auth store. The assertion
// is a PKCS#7 SignedData envelope whose signed content is a small JSON
// blob carrying the session pid and the submitter's OS identity.
package auth

import (
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"

	"go.mozilla.org/pkcs7"
)

// Assertion is the decoded, verified payload of a login-server signature.
type Assertion struct {
	PID      string `json:"pid"`
	Identity string `json:"identity"`
}

// ErrPIDMismatch is returned by VerifyPID when a request's pid does
// not match the assertion's embedded pid.
var ErrPIDMismatch = errors.New("auth: request pid does not match assertion pid")

// Decoder turns an encrypted assertion string from the auth store into
// a verified Assertion. A nil *x509.CertPool disables chain
// validation, an escape hatch for environments without a deployed CA.
type Decoder struct {
	Roots *x509.CertPool
}

// NewDecoder builds a Decoder that verifies signatures against roots. Pass
// nil to skip chain validation (signature-only verification).
func NewDecoder(roots *x509.CertPool) *Decoder {
	return &Decoder{Roots: roots}
}

// Decode parses raw (the string returned by `HGET <pid> isAuth`), verifies
// its PKCS#7 signature, and unmarshals its signed content into an
// Assertion.
func (d *Decoder) Decode(raw string) (Assertion, error) {
	p7, err := pkcs7.Parse([]byte(raw))
	if err != nil {
		return Assertion{}, fmt.Errorf("auth: parse assertion: %w", err)
	}

	if d.Roots != nil {
		if err := p7.VerifyWithChain(d.Roots); err != nil {
			return Assertion{}, fmt.Errorf("auth: verify chain: %w", err)
		}
	} else if err := p7.Verify(); err != nil {
		return Assertion{}, fmt.Errorf("auth: verify signature: %w", err)
	}

	var a Assertion
	if err := json.Unmarshal(p7.Content, &a); err != nil {
		return Assertion{}, fmt.Errorf("auth: decode assertion content: %w", err)
	}
	if a.PID == "" {
		return Assertion{}, errors.New("auth: assertion missing pid")
	}
	return a, nil
}

// VerifyPID returns ErrPIDMismatch unless a.PID equals requestPID. A
// request is only honored when its pid matches its decrypted
// assertion's pid.
func VerifyPID(a Assertion, requestPID string) error {
	if a.PID != requestPID {
		return fmt.Errorf("%w: request=%q assertion=%q", ErrPIDMismatch, requestPID, a.PID)
	}
	return nil
}
