// Package email holds address helpers shared by account administration and
// profile provisioning.
package email

import (
	"strings"
	"unicode"
)

// Normalize trims and lowercases an address so lookups are case-insensitive.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsValid is a shape check only: one '@' with a non-empty local part and a
// dotted domain.
func IsValid(address string) bool {
	local, domain, ok := strings.Cut(address, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return false
	}
	dot := strings.LastIndexByte(domain, '.')
	return dot > 0 && dot < len(domain)-1
}

// DisplayName derives a readable name from the local part, e.g.
// "ana.silva@example.com" becomes "Ana Silva".
func DisplayName(address string) string {
	local := address
	if at := strings.IndexByte(address, '@'); at >= 0 {
		local = address[:at]
	}

	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "User"
	}

	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimFunc(p, unicode.IsDigit); p != "" {
			names = append(names, capitalize(p))
		}
	}
	if len(names) == 0 {
		return "User"
	}
	return strings.Join(names, " ")
}

func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
