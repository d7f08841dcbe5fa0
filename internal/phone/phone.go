// Package phone normalizes phone numbers to a canonical dialable form.
// No phone library is carried for this: the inputs are North American
// numbers from the provider and the import pipeline, and the canonical
// form is plain E.164.
package phone

import (
	"errors"
	"strings"
)

// ErrInvalidNumber is returned when a value cannot be made dialable.
var ErrInvalidNumber = errors.New("invalid phone number")

// Normalize converts a raw phone value to E.164, assuming a US/Canada
// country code when none is present. Provider channel prefixes
// ("whatsapp:") are stripped first.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "whatsapp:")

	hadPlus := strings.HasPrefix(s, "+")

	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case hadPlus && len(d) >= 10 && len(d) <= 15:
		return "+" + d, nil
	case len(d) == 10:
		return "+1" + d, nil
	case len(d) == 11 && strings.HasPrefix(d, "1"):
		return "+" + d, nil
	default:
		return "", ErrInvalidNumber
	}
}

// StripChannelPrefix removes a channel marker from an endpoint, returning
// the bare number and whether the marker was present.
func StripChannelPrefix(endpoint string) (string, bool) {
	if strings.HasPrefix(endpoint, "whatsapp:") {
		return strings.TrimPrefix(endpoint, "whatsapp:"), true
	}
	return endpoint, false
}
