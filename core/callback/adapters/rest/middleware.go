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

package http

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"

	"notifyhook/modules/middleware"
	"notifyhook/modules/middleware/problem"
)

// SpecCallbackPath is the path the OpenAPI document describes the callback under.
const SpecCallbackPath = "/notify"

// RecoverHTTPMiddleware returns a panic recovery middleware configured for the Callback API.
func RecoverHTTPMiddleware() func(http.Handler) http.Handler {
	return middleware.Recovery(func(w http.ResponseWriter, r *http.Request, recovered any) {
		problem.Write(w, problem.Internal("server error"))
	})
}

// CallbackHTTPValidationMiddleware validates query parameters against the
// OpenAPI document, with the callback operations moved to path. Bodies are
// opaque platform payloads and are not validated.
func CallbackHTTPValidationMiddleware(specFS fs.FS, specPath, path string) func(http.Handler) http.Handler {
	return middleware.OpenAPIValidation(
		specFS,
		specPath,
		// Validation error handler
		func(ctx context.Context, err error, w http.ResponseWriter, r *http.Request, statusCode int) {
			opts := []problem.Option{
				problem.WithStatus(statusCode),
				problem.WithTitle(http.StatusText(statusCode)),
				problem.WithDetail("validation failed"),
			}
			for _, p := range middleware.InvalidParams(err) {
				opts = append(opts, problem.WithInvalidParam(p.Name, p.Reason))
			}
			problem.Write(w, problem.New(opts...))
		},
		// Spec load error handler
		func(w http.ResponseWriter, r *http.Request, err error) {
			slog.ErrorContext(r.Context(), "openapi spec unavailable", slog.Any("error", err))
			problem.Write(w, problem.Internal("server error"))
		},
		middleware.WithPathAlias(SpecCallbackPath, path),
		middleware.WithoutRequestBodyValidation(),
	)
}
