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
	"time"

	"github.com/gofrs/uuid/v5"
)

const (
	// SignatureParam carries the hex digest being checked.
	SignatureParam = "signature"
	// ProviderParam is appended after signing and is never part of the payload.
	ProviderParam = "provider"
	// ExpiresParam is a base-signing param added for temporary URLs.
	ExpiresParam = "expires"
)

// ExcludedParams are never part of the signed payload.
var ExcludedParams = []string{SignatureParam, ProviderParam}

type (
	// ProviderID identifies the calling platform, e.g. "google_play" or "app_store".
	// It is opaque to this package.
	ProviderID string

	// CanonicalRequest is the exact string that was signed.
	CanonicalRequest string

	// Notification is a verified callback handed to a NotificationSink.
	Notification struct {
		ID         uuid.UUID
		Provider   ProviderID
		Method     string
		RawQuery   string
		Body       []byte
		ReceivedAt time.Time
	}
)

func (p ProviderID) String() string { return string(p) }

func (c CanonicalRequest) String() string { return string(c) }
