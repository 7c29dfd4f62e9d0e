// Copyright 2025 Nguyen Nhat Nguyen
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

package hmac

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

type HMACConfig struct {
	// unset: the secret is removed from the process environment once read
	Secret string `env:"SECRET,notEmpty,unset"`
}

// HMACSigner produces lowercase hex HMAC-SHA256 digests.
// It holds no mutable state and is safe for concurrent use.
type HMACSigner struct {
	key []byte
}

var (
	ErrMissingKey = errors.New("missing hmac key")
)

// NewHMACSigner builds a HMAC signer using the provided secret
func NewHMACSigner(secKey []byte) (*HMACSigner, error) {
	if len(secKey) == 0 {
		return nil, ErrMissingKey
	}
	key := make([]byte, len(secKey))
	copy(key, secKey)
	return &HMACSigner{key: key}, nil
}

// Sign returns hex(HMAC-SHA256(payload, key)).
func (h *HMACSigner) Sign(payload string) string {
	mac := hmac.New(sha256.New, h.key)
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the digest of payload.
func (h *HMACSigner) Verify(payload, signature string) bool {
	if signature == "" {
		return false
	}
	return Equal(h.Sign(payload), signature)
}

// Equal compares two signatures in constant time with respect to their contents.
// Only the length of the inputs may leak.
func Equal(expected, provided string) bool {
	return hmac.Equal([]byte(expected), []byte(provided))
}

// String keeps the key out of logs and %v output.
func (h *HMACSigner) String() string {
	return "HMACSigner{key:<redacted>}"
}
