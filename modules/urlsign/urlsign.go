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

// Package urlsign generates absolute callback route URLs and signs them with
// an HMAC over the full URL. The signature travels as the last query parameter.
//
// A signed URL looks like:
//
//	https://app.test/notify?expires=1760000000&signature=<hex64>
//
// Verification recomputes the digest over the request URL plus its raw query,
// minus the signature itself and any caller supplied parameter names.
package urlsign

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"notifyhook/modules/clock"
	"notifyhook/modules/hmac"
)

const (
	SignatureParam = "signature"
	ExpiresParam   = "expires"
)

var (
	ErrEmptyBaseURL   = errors.New("urlsign: base url must not be empty")
	ErrInvalidBaseURL = errors.New("urlsign: base url must be an absolute http(s) url without fragment")
	ErrMissingSigner  = errors.New("urlsign: signer must not be nil")
)

// Signer computes the signature of a payload.
type Signer interface {
	Sign(payload string) string
}

// URLSigner is safe for concurrent use; it never mutates after New.
type URLSigner struct {
	base   string
	signer Signer
	clock  clock.Clock
}

// New validates baseURL and returns a URLSigner for it.
func New(baseURL string, signer Signer, clk clock.Clock) (*URLSigner, error) {
	if signer == nil {
		return nil, ErrMissingSigner
	}
	base, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClockProvider()
	}
	return &URLSigner{base: base, signer: signer, clock: clk}, nil
}

// NormalizeBaseURL checks that raw is an absolute http(s) URL and re-emits it
// in the form a server rebuilds from an incoming request: an empty path
// becomes "/", the path is percent-encoded and a trailing '?' is dropped.
func NormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyBaseURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.Fragment != "" || strings.Contains(raw, "#") {
		return "", ErrInvalidBaseURL
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.ForceQuery = false
	return u.String(), nil
}

// Route returns the unsigned base URL.
func (s *URLSigner) Route() string {
	return s.base
}

// Path returns the path component of the base URL, used to mount the handler.
func (s *URLSigner) Path() string {
	u, err := url.Parse(s.base)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// SignedRoute returns the base URL with a signature that never expires.
func (s *URLSigner) SignedRoute() string {
	return s.sign(s.base)
}

// TemporarySignedRoute adds an expires param before signing. A ttl <= 0
// behaves like SignedRoute.
func (s *URLSigner) TemporarySignedRoute(ttl time.Duration) string {
	if ttl <= 0 {
		return s.SignedRoute()
	}
	expires := s.clock.Now().Add(ttl).Unix()
	return s.sign(AppendParam(s.base, ExpiresParam, strconv.FormatInt(expires, 10)))
}

func (s *URLSigner) sign(u string) string {
	return AppendParam(u, SignatureParam, s.signer.Sign(u))
}

// HasValidSignature reports whether signature matches requestURL + rawQuery
// with the signature param and every name in ignore removed, and whether the
// URL has not expired.
func (s *URLSigner) HasValidSignature(requestURL, rawQuery, signature string, ignore ...string) bool {
	return s.HasCorrectSignature(requestURL, rawQuery, signature, ignore...) &&
		s.SignatureHasNotExpired(rawQuery)
}

// HasCorrectSignature checks the digest only.
func (s *URLSigner) HasCorrectSignature(requestURL, rawQuery, signature string, ignore ...string) bool {
	if signature == "" {
		return false
	}
	original := Canonical(requestURL, rawQuery, append([]string{SignatureParam}, ignore...)...)
	return hmac.Equal(s.signer.Sign(original), signature)
}

// SignatureHasNotExpired is true when rawQuery has no expires param, or the
// expires timestamp is still in the future. A malformed timestamp is expired.
func (s *URLSigner) SignatureHasNotExpired(rawQuery string) bool {
	expires, ok := ExpiresAt(rawQuery)
	if !ok {
		return true
	}
	if expires.IsZero() {
		return false
	}
	return !s.clock.Now().After(expires)
}

// ExpiresAt extracts the expires param. ok is false when the param is absent;
// a zero time with ok=true means the value is not a unix timestamp.
func ExpiresAt(rawQuery string) (time.Time, bool) {
	for _, token := range splitQuery(rawQuery) {
		name, value, _ := strings.Cut(token, "=")
		if name != ExpiresParam {
			continue
		}
		ts, err := strconv.ParseInt(value, 10, 64)
		if err != nil || ts <= 0 {
			return time.Time{}, true
		}
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}
