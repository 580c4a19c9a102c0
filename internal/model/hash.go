package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// paramsHashLen is the stored digest length in hex characters.
const paramsHashLen = 16

// CanonicalParams renders a parameter mapping as canonical JSON: keys sorted,
// compact separators, nil treated as the empty mapping. Two logically
// identical mappings always render identically regardless of insertion order;
// the History join depends on this.
func CanonicalParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		b.Write(kb)
		b.WriteByte(':')
		b.WriteString(canonicalValue(params[k]))
	}
	b.WriteByte('}')
	return b.String()
}

func canonicalValue(v any) string {
	switch t := v.(type) {
	case map[string]any:
		return CanonicalParams(t)
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonicalValue(e))
		}
		b.WriteByte(']')
		return b.String()
	default:
		out, err := json.Marshal(v)
		if err != nil {
			out, _ = json.Marshal(fmt.Sprint(v))
		}
		return string(out)
	}
}

// HashParams returns the deterministic short digest of a parameter mapping:
// sha256 of the canonical JSON, truncated to 16 hex characters.
func HashParams(params map[string]any) string {
	sum := sha256.Sum256([]byte(CanonicalParams(params)))
	return hex.EncodeToString(sum[:])[:paramsHashLen]
}

// Fingerprint digests credential material for cache key construction, so
// rotating credentials invalidates their cache entries immediately.
func Fingerprint(values ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(values, "|")))
	return hex.EncodeToString(sum[:])[:paramsHashLen]
}
