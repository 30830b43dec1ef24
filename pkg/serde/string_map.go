// Copyright 2026 Storymill Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serde

import (
	"strings"

	"github.com/bytedance/sonic"
)

// MarshalStringMap serializes map[string]string to a JSON string. Job
// metadata is persisted through this helper, so the stored column is always
// valid JSON or empty.
func MarshalStringMap(data map[string]string) string {
	if len(data) == 0 {
		return ""
	}
	raw, err := sonic.Marshal(data)
	if err != nil {
		return ""
	}
	return string(raw)
}

// UnmarshalStringMap deserializes a JSON string to map[string]string.
func UnmarshalStringMap(raw string) map[string]string {
	if strings.TrimSpace(raw) == "" {
		return map[string]string{}
	}
	out := map[string]string{}
	if err := sonic.UnmarshalString(raw, &out); err != nil {
		return map[string]string{}
	}
	return out
}

// MarshalAnyMap serializes an open map of JSON-scalar values. Used for
// bridge call arguments recorded in logs and checkpoints.
func MarshalAnyMap(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	raw, err := sonic.Marshal(data)
	if err != nil {
		return ""
	}
	return string(raw)
}

// UnmarshalAnyMap deserializes a JSON string to map[string]any.
func UnmarshalAnyMap(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := sonic.UnmarshalString(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
