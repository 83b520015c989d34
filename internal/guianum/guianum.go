// Package guianum holds helpers for LAAR parcel numbers ("números de guía").
package guianum

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Typical format: two letters followed by 5-10 digits, e.g. LC51960903.
var numberRe = regexp.MustCompile(`^[A-Z]{2}\d{5,10}$`)

// Clean trims, uppercases and strips inner whitespace.
func Clean(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(strings.TrimSpace(s))), "")
}

func IsValid(s string) bool {
	return numberRe.MatchString(s)
}

// ParseList splits a comma-separated list into cleaned, valid, de-duplicated
// parcel numbers, preserving first-seen order.
func ParseList(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(text, ",") {
		n := Clean(part)
		if n == "" || !IsValid(n) {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// NewID builds the immutable record id: <parcelId>-<creationUnixMillis>.
func NewID(parcelID string, now time.Time) string {
	return fmt.Sprintf("%s-%d", parcelID, now.UnixMilli())
}
