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

package middleware

import (
	"errors"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
)

// InvalidParam names a rejected query parameter and why it was rejected.
// Reasons never quote the submitted value, so a signature is not echoed back.
type InvalidParam struct {
	Name   string
	Reason string
}

// InvalidParams flattens an OpenAPI validation error into one entry per
// rejected parameter. Errors not tied to a parameter collapse into "request".
func InvalidParams(err error) []InvalidParam {
	// not errors.As: a parameter error may itself wrap a MultiError of
	// schema errors, and unwrapping it would lose the parameter name
	multi, ok := err.(openapi3.MultiError)
	if !ok {
		return []InvalidParam{invalidParam(err)}
	}
	var out []InvalidParam
	for _, item := range multi {
		out = append(out, InvalidParams(item)...)
	}
	return out
}

func invalidParam(err error) InvalidParam {
	var re *openapi3filter.RequestError
	if !errors.As(err, &re) || re.Parameter == nil {
		return InvalidParam{Name: "request", Reason: "invalid request"}
	}

	p := InvalidParam{Name: re.Parameter.Name, Reason: "invalid value"}
	var se *openapi3.SchemaError
	switch {
	case errors.Is(re.Err, openapi3filter.ErrInvalidRequired):
		p.Reason = "is required"
	case errors.As(re.Err, &se) && se.Reason != "":
		// schema reasons describe the constraint, e.g. "minimum string length is 1"
		p.Reason = se.Reason
	}
	return p
}
