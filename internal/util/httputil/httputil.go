/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package httputil

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// Validator validates basic auth credentials.
type Validator func(username, password string, r *http.Request) (bool, error)

// BasicAuth is a middleware that performs basic authentication.
func BasicAuth(next http.Handler, validator Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { //nolint:varnamelen
		username, password, ok := r.BasicAuth()
		if ok {
			if ok, err := validator(username, password, r); err != nil {
				http.Error(w, `{"message":"Internal Server Error"}`, http.StatusInternalServerError)
				return
			} else if ok {
				next.ServeHTTP(w, r)
				return
			}
		}

		// Missing, malformed or wrong credentials.
		w.Header().Set("WWW-Authenticate", `Basic realm="restricted", charset="UTF-8"`)
		http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
	}
}

// BcryptValidator accepts username with any password matching the bcrypt
// passwordHash.
func BcryptValidator(username string, passwordHash []byte) Validator {
	return func(u, p string, _ *http.Request) (bool, error) {
		err := bcrypt.CompareHashAndPassword(passwordHash, []byte(p))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		return subtle.ConstantTimeCompare([]byte(u), []byte(username)) == 1, nil
	}
}
