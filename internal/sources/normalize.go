package sources

import "strings"

// NormalizeSetNumber canonicalizes a catalog identifier. BrickLink set
// numbers carry a variant suffix; bare numbers default to variant 1.
func NormalizeSetNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "-") {
		return s
	}
	return s + "-1"
}

// ParseSetInput splits free-form user input (comma or newline separated) into
// individual set numbers, dropping empties.
func ParseSetInput(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(strings.ReplaceAll(raw, "\n", ","), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
