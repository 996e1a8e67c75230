package util

import (
	"net/mail"
	"strings"
)

// NormalizeAddress trims and lowercases the domain part of an address.
// Returns "" when the address does not parse.
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	a, err := mail.ParseAddress(s)
	if err != nil {
		return ""
	}
	at := strings.LastIndex(a.Address, "@")
	if at < 0 {
		return ""
	}
	return a.Address[:at+1] + strings.ToLower(a.Address[at+1:])
}

// NormalizeAddresses filters a list down to its valid, normalized members.
func NormalizeAddresses(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if a := NormalizeAddress(s); a != "" {
			out = append(out, a)
		}
	}
	return out
}
