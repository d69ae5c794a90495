package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Default rune bounds for an address.
const (
	DefaultAddressMinLength = 1
	DefaultAddressMaxLength = 200
)

// ErrAddressEmpty is returned when the address is empty or whitespace-only after trim.
var ErrAddressEmpty = errors.New("address is required")

// ErrAddressTooShort is returned when address length is below the minimum.
var ErrAddressTooShort = errors.New("address too short")

// ErrAddressTooLong is returned when address length exceeds the maximum.
var ErrAddressTooLong = errors.New("address too long")

// ErrAddressInvalidChars is returned when the address contains control characters.
var ErrAddressInvalidChars = errors.New("address contains invalid characters")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Only the fixed tag name is registered; the func cannot fail registration.
	_ = v.RegisterValidation("nocontrol", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), unicode.IsControl)
	})
	return v
}

// ValidateAddress trims the input and enforces length bounds (minLen, maxLen in runes;
// zero disables a bound). Free-text addresses may hold any printable character, so only
// control characters are rejected. Returns the trimmed string or an error suitable for
// 400 INVALID_ADDRESS responses.
func ValidateAddress(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrAddressEmpty
	}

	tags := make([]string, 0, 3)
	if minLen > 0 {
		tags = append(tags, fmt.Sprintf("min=%d", minLen))
	}
	if maxLen > 0 {
		tags = append(tags, fmt.Sprintf("max=%d", maxLen))
	}
	tags = append(tags, "nocontrol")

	if err := validate.Var(s, strings.Join(tags, ",")); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
			return "", fmt.Errorf("validate address: %w", err)
		}
		switch fieldErrs[0].Tag() {
		case "min":
			return "", ErrAddressTooShort
		case "max":
			return "", ErrAddressTooLong
		default:
			return "", ErrAddressInvalidChars
		}
	}
	return s, nil
}
