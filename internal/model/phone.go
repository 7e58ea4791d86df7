package model

import (
	"errors"
	"regexp"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

var (
	phoneStripRe = regexp.MustCompile(`[^\d+]`)
	phoneKenyaRe = regexp.MustCompile(`^254\d{9}$`)
)

// NormalizePhone converts common Kenyan phone formats to 254XXXXXXXXX.
// Accepted inputs: "+254 712 345 678", "254712345678", "0712345678",
// "712345678".
func NormalizePhone(phone string) (string, error) {
	if phone == "" {
		return "", ErrInvalidPhone
	}

	cleaned := phoneStripRe.ReplaceAllString(phone, "")
	cleaned = strings.TrimPrefix(cleaned, "+")

	var normalized string
	switch {
	case strings.HasPrefix(cleaned, "254"):
		normalized = cleaned
	case strings.HasPrefix(cleaned, "0"):
		normalized = "254" + cleaned[1:]
	case len(cleaned) == 9:
		normalized = "254" + cleaned
	default:
		return "", ErrInvalidPhone
	}

	if !phoneKenyaRe.MatchString(normalized) {
		return "", ErrInvalidPhone
	}

	return normalized, nil
}
