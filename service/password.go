package service

import (
	"net/mail"
	"strings"
)

const (
	minPasswordLength = 8
	maxLocalPart      = 64
	maxDomain         = 254
	maxLabel          = 63
)

// passwordSymbols is the set of characters counted as symbols.
const passwordSymbols = "-#!$@£%^&*()_+|~=`{}[]:\";'<>?,./\\ "

// strongPassword requires minPasswordLength characters including at least one
// ASCII lowercase letter, uppercase letter, digit and symbol.
func strongPassword(pw string) bool {
	if len([]rune(pw)) < minPasswordLength {
		return false
	}
	var lower, upper, digit, symbol bool
	for _, r := range pw {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	return lower && upper && digit && symbol
}

// validEmail accepts a bare address (no display name) whose domain is a fully
// qualified host name.
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at > maxLocalPart {
		return false
	}
	return validHostname(email[at+1:])
}

// validHostname reports whether host is a dotted name of alphanumeric labels
// ending in an alphabetic or punycode top-level label. IP literals fail.
func validHostname(host string) bool {
	if len(host) > maxDomain {
		return false
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > maxLabel {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			if !isAlnum(label[i]) && label[i] != '-' {
				return false
			}
		}
	}
	tld := strings.ToLower(labels[len(labels)-1])
	if strings.HasPrefix(tld, "xn--") {
		return len(tld) > len("xn--")
	}
	if len(tld) < 2 {
		return false
	}
	for i := 0; i < len(tld); i++ {
		if tld[i] < 'a' || tld[i] > 'z' {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
