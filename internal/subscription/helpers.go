package subscription

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

func decodeBase64Relaxed(input string) ([]byte, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, false
	}
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded, true
	}
	if decoded, err := base64.URLEncoding.DecodeString(s); err == nil {
		return decoded, true
	}
	return nil, false
}

func tryDecodeBase64ToText(data []byte) (string, bool) {
	compact := strings.Join(strings.Fields(string(data)), "")
	if !looksLikeBase64(compact) {
		return "", false
	}
	decoded, ok := decodeBase64Relaxed(compact)
	if !ok || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}

func looksLikeBase64(s string) bool {
	if len(s) < 24 || len(s)%4 == 1 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '+' || r == '/' || r == '-' || r == '_' || r == '=':
		default:
			return false
		}
	}
	return true
}

func looksLikeJSON(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	switch data[0] {
	case '{', '[':
		return true
	default:
		return false
	}
}

func looksLikeClashYAML(text string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "proxies:") || strings.Contains(lower, "\nproxies:")
}

func uriPortOrDefault(u *url.URL, fallback int) int {
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	return fallback
}

func decodeTag(fragment string) string {
	if fragment == "" {
		return ""
	}
	if decoded, err := url.QueryUnescape(fragment); err == nil {
		return strings.TrimSpace(decoded)
	}
	return strings.TrimSpace(fragment)
}

func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch val := v.(type) {
			case string:
				return val
			case int, int64, float64:
				return strconv.FormatFloat(toFloat(val), 'f', -1, 64)
			}
		}
	}
	return ""
}

func getUint(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch val := v.(type) {
			case float64:
				return int(val), true
			case int:
				return val, true
			case string:
				if n, err := strconv.Atoi(val); err == nil {
					return n, true
				}
			}
		}
	}
	return 0, false
}

func getBool(m map[string]any, keys ...string) (bool, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch val := v.(type) {
			case bool:
				return val, true
			case string:
				return strings.EqualFold(val, "true") || val == "1", true
			}
		}
	}
	return false, false
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float64:
		return val
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
