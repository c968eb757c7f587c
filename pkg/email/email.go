// Package email tidies and checks contact addresses before they are used
// as identity keys.
package email

import (
	"net/mail"
	"strings"
)

// Normalize lower-cases and trims an address. Person emails are stored and
// compared in this form only.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Valid reports whether address is a bare addr-spec with a dotted domain.
// Display-name forms ("Ann <ann@x.org>") are rejected.
func Valid(address string) bool {
	if address == "" || strings.ContainsAny(address, " <>") {
		return false
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return false
	}
	at := strings.LastIndexByte(address, '@')
	domain := address[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// LocalPart returns the part before the last '@', or the whole input.
func LocalPart(address string) string {
	if at := strings.LastIndexByte(address, '@'); at > 0 {
		return address[:at]
	}
	return address
}
