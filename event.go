// event.go: Gateway event model and canonical fingerprinting
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Event is an opaque gateway event document. It has no fixed schema beyond
// the post_type discriminator field; plugins decide what the rest means.
type Event map[string]any

// PostType returns the event's discriminator field, or "unknown" when the
// gateway did not set one.
func (e Event) PostType() string {
	if v, ok := e["post_type"].(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// Fingerprint returns a deterministic SHA-256 hash over the event's
// canonical (key-sorted) serialization. Structurally identical payloads
// with differing key order produce the same fingerprint.
func (e Event) Fingerprint() string {
	return hashCanonical(map[string]any(e))
}

// hashCanonical hashes any JSON-representable value canonically.
func hashCanonical(value any) string {
	var sb strings.Builder
	writeCanonical(&sb, value)
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// writeCanonical serializes value with map keys sorted so the output is
// order-independent. Non-JSON values fall back to their fmt representation,
// which keeps hashing total rather than failing a dedup check.
func writeCanonical(sb *strings.Builder, value any) {
	switch v := value.(type) {
	case nil:
		sb.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSONString(sb, k)
			sb.WriteByte(':')
			writeCanonical(sb, v[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, item)
		}
		sb.WriteByte(']')
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			writeJSONString(sb, fmt.Sprintf("%v", v))
			return
		}
		sb.Write(encoded)
	}
}

func writeJSONString(sb *strings.Builder, s string) {
	encoded, err := json.Marshal(s)
	if err != nil {
		sb.WriteString(`"?"`)
		return
	}
	sb.Write(encoded)
}

// requestFingerprint hashes an outbound gateway call identity: the action
// endpoint plus the canonical serialization of its parameters.
func requestFingerprint(action string, params map[string]any) string {
	var sb strings.Builder
	sb.WriteString(action)
	sb.WriteByte('_')
	if params == nil {
		sb.WriteString("{}")
	} else {
		writeCanonical(&sb, params)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
