// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package htsget

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a fault with a name and HTTP status defined by the htsget
// specification.  Faults outside the taxonomy surface as InternalError.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// ErrorBody is the wire form of an error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorEnvelope wraps an error body for transport.
type ErrorEnvelope struct {
	Htsget ErrorBody `json:"htsget"`
}

func newError(code string, status int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

func InvalidAuthenticationError(format string, args ...interface{}) *Error {
	return newError("InvalidAuthentication", http.StatusUnauthorized, format, args...)
}

func PermissionDeniedError(format string, args ...interface{}) *Error {
	return newError("PermissionDenied", http.StatusForbidden, format, args...)
}

func NotFoundError(format string, args ...interface{}) *Error {
	return newError("NotFound", http.StatusNotFound, format, args...)
}

func UnsupportedFormatError(format string, args ...interface{}) *Error {
	return newError("UnsupportedFormat", http.StatusBadRequest, format, args...)
}

func InvalidInputError(format string, args ...interface{}) *Error {
	return newError("InvalidInput", http.StatusBadRequest, format, args...)
}

func InvalidRangeError(format string, args ...interface{}) *Error {
	return newError("InvalidRange", http.StatusBadRequest, format, args...)
}

func IndexCorruptError(format string, args ...interface{}) *Error {
	return newError("IndexCorrupt", http.StatusInternalServerError, format, args...)
}

func IOError(context string, err error) *Error {
	return newError("IoError", http.StatusInternalServerError, "%s: %v", context, err)
}

func InternalError(context string, err error) *Error {
	return newError("InternalError", http.StatusInternalServerError, "%s: %v", context, err)
}

// AsError classifies err: typed errors pass through and anything else
// becomes an InternalError.
func AsError(err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return newError("InternalError", http.StatusInternalServerError, "%v", err)
}
