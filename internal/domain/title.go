package domain

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeTitle returns the form of a sensor title used for comparisons.
//
// Dataloggers and stores may hand back the same name in different Unicode
// normalization forms (e.g. "°C" composed vs decomposed). Titles are
// NFC-normalized and stripped of surrounding whitespace; case is kept.
func NormalizeTitle(title string) string {
	return norm.NFC.String(strings.TrimSpace(title))
}

// SameTitle reports whether two titles name the same sensor.
func SameTitle(a, b string) bool {
	return NormalizeTitle(a) == NormalizeTitle(b)
}
