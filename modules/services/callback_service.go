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

package services

import (
	"io/fs"
	"net/http"

	callback_http "notifyhook/core/callback/adapters/rest"
	"notifyhook/modules/server"
)

var _ server.RegistrableService = (*CallbackAPIService)(nil)

// CallbackAPIService encapsulates the registration logic for the Callback API.
type CallbackAPIService struct {
	specPath string
	specFS   fs.FS
	api      *callback_http.CallbackAPI
}

func NewCallbackAPIService(api *callback_http.CallbackAPI, specFS fs.FS, specPath string) *CallbackAPIService {
	return &CallbackAPIService{specFS: specFS, specPath: specPath, api: api}
}

// Register mounts the callback and health routes.
func (s *CallbackAPIService) Register(mux *http.ServeMux) {
	s.api.Routes(mux)
}

// Middlewares returns the middlewares required by the Callback API: request
// validation, then panic recovery closest to the handlers.
func (s *CallbackAPIService) Middlewares() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		callback_http.CallbackHTTPValidationMiddleware(s.specFS, s.specPath, s.api.Path()),
		callback_http.RecoverHTTPMiddleware(),
	}
}
