package email

import (
	"net/mail"
	"strings"
	"unicode"

	dErrors "partnerhub/pkg/domain-errors"
)

const maxAddressLength = 254

// Normalize trims and lowercases an address so lookups and cross-checks are
// case-insensitive.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Equal compares two addresses after normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Parse normalizes and validates a bare address (no display name).
//
// Errors: CodeValidation when the address is empty, too long, or malformed.
func Parse(address string) (string, error) {
	normalized := Normalize(address)
	if normalized == "" {
		return "", dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if len(normalized) > maxAddressLength {
		return "", dErrors.New(dErrors.CodeValidation, "email is too long")
	}
	parsed, err := mail.ParseAddress(normalized)
	if err != nil || parsed.Address != normalized {
		return "", dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	return normalized, nil
}

// DeriveDisplayName builds a greeting name from the local part of an address,
// used when the signup carried no display name.
func DeriveDisplayName(address string) string {
	localPart := address
	if at := strings.IndexByte(address, '@'); at >= 0 {
		localPart = address[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "Partner"
	}
	return capitalize(parts[0])
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
