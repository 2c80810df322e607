//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoETL.
//
// GoETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoETL. If not, see https://www.gnu.org/licenses/.

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Lookup resolves an environment key. It has the signature of os.LookupEnv so
// components receive configuration explicitly instead of reading globals.
type Lookup func(key string) (string, bool)

// OSLookup reads the process environment.
func OSLookup() Lookup {
	return os.LookupEnv
}

// MapLookup serves keys from a fixed map.
func MapLookup(m map[string]string) Lookup {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// DotEnv reads a .env file and returns a Lookup that consults next first and
// falls back to the file. The process environment is never modified.
func DotEnv(path string, next Lookup) (Lookup, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	file := MapLookup(values)
	if next == nil {
		return file, nil
	}
	return func(key string) (string, bool) {
		if v, ok := next(key); ok {
			return v, true
		}
		return file(key)
	}, nil
}

// get returns a trimmed, non-empty value.
func (l Lookup) get(key string) (string, bool) {
	v, ok := l(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (l Lookup) firstOf(keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := l.get(key); ok {
			return v, true
		}
	}
	return "", false
}
