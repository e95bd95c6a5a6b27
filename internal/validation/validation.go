package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrCityEmpty is returned when the input is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityInvalidChars is returned when the input contains anything other than letters, spaces and hyphens.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ValidateCity trims the input and restricts it to Unicode letters, spaces and hyphens
// ("Санкт-Петербург", "New York"). Returns the trimmed string unchanged in case.
func ValidateCity(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrCityEmpty
	}
	for _, c := range s {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) {
		return true
	}
	return r == ' ' || r == '-'
}
