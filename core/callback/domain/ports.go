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
	"context"
	"time"
)

// RouteURLGenerator is the URL layer the builder sits on.
//
// Implementations must be safe for concurrent use and must not fail once
// constructed: configuration errors surface at startup.
type RouteURLGenerator interface {
	// Route returns the plain absolute callback URL.
	Route() string

	// SignedRoute returns Route with a signature query param (and whatever
	// base-signing params the layer uses) appended.
	SignedRoute() string

	// TemporarySignedRoute is SignedRoute with an expiry. ttl <= 0 means no expiry.
	TemporarySignedRoute(ttl time.Duration) string
}

// PayloadSigner computes the lowercase hex HMAC-SHA256 digest of a payload.
type PayloadSigner interface {
	Sign(payload string) string
}

// SignatureDelegate is an external signed-URL scheme able to check a
// signature while ignoring named query params. It always ignores the
// signature param itself.
type SignatureDelegate interface {
	HasValidSignature(requestURL, rawQuery, signature string, ignore ...string) bool
}

// Verifier decides whether a callback request is authentic.
//
// Verify never panics and never returns an error: every failure,
// including malformed input, is reported as false.
type Verifier interface {
	Verify(requestURL, rawQuery, signature string) bool
}

// NotificationSink receives verified notifications. Accept must not block on
// processing; it returns ErrQueueFull when the sink cannot take more work.
type NotificationSink interface {
	Accept(ctx context.Context, n Notification) error
}

// ReplayGuard reports ErrDuplicate for a notification already seen within its window.
type ReplayGuard interface {
	Check(ctx context.Context, provider ProviderID, rawQuery string, body []byte) error
	// Forget undoes Check for a notification that could not be queued, so
	// the platform's retry is not mistaken for a duplicate.
	Forget(ctx context.Context, provider ProviderID, rawQuery string, body []byte) error
}
