// Copyright 2025 Nhat-Nguyen Nguyen
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

package domain

import (
	"fmt"
	"log/slog"

	"notifyhook/modules/clock"
	"notifyhook/modules/hmac"
	"notifyhook/modules/urlsign"
)

// Mode selects the verification strategy.
type Mode string

const (
	// ModeManual recomputes the canonical request and its HMAC in this package.
	ModeManual Mode = "manual"
	// ModeDelegated hands the check to an external SignatureDelegate for
	// interoperability with its signing scheme.
	ModeDelegated Mode = "delegated"
)

// ModeFromFlag maps the compatibility flag onto a Mode.
func ModeFromFlag(delegated bool) Mode {
	if delegated {
		return ModeDelegated
	}
	return ModeManual
}

var (
	_ Verifier = (*ManualVerifier)(nil)
	_ Verifier = (*DelegatedVerifier)(nil)
	_ Verifier = (*ExpiringVerifier)(nil)
)

type (
	// ManualVerifier checks
	//
	//	hex(HMAC-SHA256(Canonicalize(url, query, "signature", "provider"), key)) == signature
	//
	// in constant time.
	ManualVerifier struct {
		signer PayloadSigner
	}

	// DelegatedVerifier asks the delegate to ignore the provider param; the
	// delegate drops the signature param on its own.
	DelegatedVerifier struct {
		delegate SignatureDelegate
	}

	// ExpiringVerifier rejects requests whose expires param is malformed or
	// in the past before consulting next. Requests without expires pass through.
	ExpiringVerifier struct {
		next  Verifier
		clock clock.Clock
	}

	VerifierOptions struct {
		Mode     Mode
		Signer   PayloadSigner
		Delegate SignatureDelegate
		Clock    clock.Clock
	}
)

func NewManualVerifier(signer PayloadSigner) (*ManualVerifier, error) {
	if signer == nil {
		return nil, ErrMissingSigner
	}
	return &ManualVerifier{signer: signer}, nil
}

func (v *ManualVerifier) Verify(requestURL, rawQuery, signature string) (ok bool) {
	defer recoverAsFalse(ModeManual, &ok)

	if signature == "" {
		return false
	}
	canonical := Canonicalize(requestURL, rawQuery, ExcludedParams...)
	return hmac.Equal(v.signer.Sign(canonical.String()), signature)
}

func NewDelegatedVerifier(delegate SignatureDelegate) (*DelegatedVerifier, error) {
	if delegate == nil {
		return nil, ErrMissingDelegate
	}
	return &DelegatedVerifier{delegate: delegate}, nil
}

func (v *DelegatedVerifier) Verify(requestURL, rawQuery, signature string) (ok bool) {
	defer recoverAsFalse(ModeDelegated, &ok)

	if signature == "" {
		return false
	}
	return v.delegate.HasValidSignature(requestURL, rawQuery, signature, ProviderParam)
}

func NewExpiringVerifier(next Verifier, clk clock.Clock) *ExpiringVerifier {
	if clk == nil {
		clk = clock.RealClockProvider()
	}
	return &ExpiringVerifier{next: next, clock: clk}
}

func (v *ExpiringVerifier) Verify(requestURL, rawQuery, signature string) (ok bool) {
	defer recoverAsFalse("expiry", &ok)

	expires, present := urlsign.ExpiresAt(rawQuery)
	if present && (expires.IsZero() || v.clock.Now().After(expires)) {
		return false
	}
	return v.next.Verify(requestURL, rawQuery, signature)
}

// NewVerifier builds the Verifier for opts.Mode.
//
// Manual mode is wrapped in an ExpiringVerifier so that temporary URLs
// expire the same way in both modes; the delegate enforces expiry itself.
func NewVerifier(opts VerifierOptions) (Verifier, error) {
	switch opts.Mode {
	case ModeManual, "":
		mv, err := NewManualVerifier(opts.Signer)
		if err != nil {
			return nil, err
		}
		return NewExpiringVerifier(mv, opts.Clock), nil
	case ModeDelegated:
		return NewDelegatedVerifier(opts.Delegate)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}
}

func recoverAsFalse(source Mode, ok *bool) {
	if rec := recover(); rec != nil {
		slog.Error("signature verification panicked",
			slog.String("mode", string(source)),
			slog.Any("error", rec),
		)
		*ok = false
	}
}
