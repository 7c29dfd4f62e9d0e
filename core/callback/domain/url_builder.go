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

	"notifyhook/modules/urlsign"
)

// URLBuilder builds the callback URLs handed to third-party platforms.
type URLBuilder struct {
	routes RouteURLGenerator

	// ttl > 0 makes signed URLs expire; the expiry is itself signed.
	ttl time.Duration
}

func NewURLBuilder(routes RouteURLGenerator, ttl time.Duration) (*URLBuilder, error) {
	if routes == nil {
		return nil, ErrMissingRoutes
	}
	return &URLBuilder{routes: routes, ttl: max(ttl, 0)}, nil
}

// BuildSignedURL returns the signed route with the provider appended after
// the signature, so the provider is not covered by it.
func (b *URLBuilder) BuildSignedURL(provider ProviderID) string {
	var base string
	if b.ttl > 0 {
		base = b.routes.TemporarySignedRoute(b.ttl)
	} else {
		base = b.routes.SignedRoute()
	}
	return urlsign.AppendParam(base, ProviderParam, provider.String())
}

// BuildUnsignedURL is for display and debugging; it will not pass Verify.
func (b *URLBuilder) BuildUnsignedURL(provider ProviderID) string {
	return urlsign.AppendParam(b.routes.Route(), ProviderParam, provider.String())
}

// Generate is the preferred entry point and always signs.
func (b *URLBuilder) Generate(provider ProviderID) string {
	return b.BuildSignedURL(provider)
}
