package service

import (
	"strings"
	"testing"
)

func TestStrongPassword(t *testing.T) {
	cases := map[string]bool{
		"Str0ng!Pass": true,
		"aB3$efgh":    true,
		"weak":        false,
		"alllower1!":  false,
		"ALLUPPER1!":  false,
		"NoDigits!!":  false,
		"NoSymbol12":  false,
		"Sh0rt!":      false,
		"Äbcdefg1!":   false,
		"ÄBCDEFg1!":   true,
		"Abcdefg1€":   false,
	}
	for pw, want := range cases {
		if got := strongPassword(pw); got != want {
			t.Fatalf("strongPassword(%q) = %v, want %v", pw, got, want)
		}
	}
}

func TestValidEmail(t *testing.T) {
	cases := map[string]bool{
		"a@b.com":             true,
		"first.last@mail.org": true,
		"not-an-email":        false,
		"a@b":                 false,
		"a@.com":              false,
		"a@b..com":            false,
		"A <a@b.com>":         false,
		"":                    false,
		"a@b.c":               false,
		"a@1.2.3.4":           false,
		"a@[127.0.0.1]":       false,
		"a@b_c.com":           false,
		"a@-b.com":            false,
		"a@b-.com":            false,
		"a@b.123":             false,
		"a@b.com.":            false,
		"a@my-host.co.uk":     true,
		"a@example.xn--p1ai":  true,
	}
	cases[strings.Repeat("x", 64)+"@b.com"] = true
	cases[strings.Repeat("x", 65)+"@b.com"] = false
	for email, want := range cases {
		if got := validEmail(email); got != want {
			t.Fatalf("validEmail(%q) = %v, want %v", email, got, want)
		}
	}
}
