package engine

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalizeContent canonicalizes input content for dedup comparison:
// NFC normalization, case folding, and whitespace collapse. Two utterances
// that differ only in casing or spacing ("Build a dashboard" vs
// "build  a dashboard") normalize to the same string.
//
// A cases.Caser is stateful, so one is built per call rather than shared.
func normalizeContent(s string) string {
	s = norm.NFC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
