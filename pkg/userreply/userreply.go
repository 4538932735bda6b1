// Copyright 2025 Autodrive Core Contributors
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

// Package userreply parses the coordinator<->user JSON contract: a
// two-field object the host supplies as a turn reply. Strict parsing is
// tried first; if it fails, the first balanced JSON object found anywhere
// in the payload is salvaged and parsed instead, so a valid object
// embedded in a larger text blob still gets through.
package userreply

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxFieldLength is the maximum number of Unicode scalar values permitted
// in either field.
const MaxFieldLength = 400

// Reply is the two-field coordinator<->user JSON contract.
type Reply struct {
	UserResponse *string `json:"user_response"`
	CLICommand   *string `json:"cli_command"`
}

// ErrMalformed is returned when neither strict nor salvage parsing
// produces a valid Reply, or when a field exceeds MaxFieldLength.
type ErrMalformed struct {
	Reason string
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("malformed user reply: %s", e.Reason)
}

// Parse accepts the first syntactically valid JSON object in payload. It
// tries strict parsing first; if that fails, it scans for the first
// balanced `{...}` substring and parses that instead. Empty or
// whitespace-only strings normalize to nil.
func Parse(payload []byte) (*Reply, error) {
	var reply Reply
	if err := json.Unmarshal(payload, &reply); err != nil {
		salvaged, ok := firstBalancedObject(payload)
		if !ok {
			return nil, &ErrMalformed{Reason: "no syntactically valid JSON object found"}
		}
		if err := json.Unmarshal(salvaged, &reply); err != nil {
			return nil, &ErrMalformed{Reason: "salvaged object failed to parse: " + err.Error()}
		}
	}

	reply.UserResponse = normalize(reply.UserResponse)
	reply.CLICommand = normalize(reply.CLICommand)

	if err := validateLength(reply.UserResponse); err != nil {
		return nil, err
	}
	if err := validateLength(reply.CLICommand); err != nil {
		return nil, err
	}
	return &reply, nil
}

// normalize maps empty or whitespace-only strings to nil.
func normalize(s *string) *string {
	if s == nil {
		return nil
	}
	if strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func validateLength(s *string) error {
	if s == nil {
		return nil
	}
	if utf8.RuneCountInString(*s) > MaxFieldLength {
		return &ErrMalformed{Reason: fmt.Sprintf("field exceeds %d Unicode scalar values", MaxFieldLength)}
	}
	return nil
}

// firstBalancedObject scans payload for the first top-level-balanced
// `{...}` span, respecting string literals and escape sequences so that
// braces inside string values never confuse the brace count.
func firstBalancedObject(payload []byte) ([]byte, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, b := range payload {
		if start == -1 {
			if b == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}
		switch b {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return payload[start : i+1], true
				}
			}
		}
	}
	return nil, false
}
