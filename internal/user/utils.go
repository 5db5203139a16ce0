package user

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

const urlUnsafe = ";,/?:@&=+$-_.!~*'()"

var errWeakPassword = errors.New(
	"Password must at least be length of 8, have 1 uppercase letter, 1 number and 1 special character")

// SanitizeForURL replaces the characters that are reserved in URLs with underscores.
func SanitizeForURL(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(urlUnsafe, r) {
			return '_'
		}
		return r
	}, s)
}

// NormalizeUserID turns a requested user id into its stored form: URL-safe, lower case, and
// with spaces replaced by underscores.
func NormalizeUserID(userID string) string {
	return strings.Join(strings.Split(strings.ToLower(strings.TrimSpace(SanitizeForURL(userID))), " "), "_")
}

// GenerateUserID derives a user id from a display name: up to seven characters of the name,
// lower-cased with whitespace removed, followed by 16 random hex digits.
func GenerateUserID(name string) (string, error) {
	compact := strings.Join(strings.Fields(strings.ToLower(name)), "")
	if runes := []rune(compact); len(runes) > 7 {
		compact = string(runes[:7])
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generating user id")
	}
	return SanitizeForURL(compact) + "_" + hex.EncodeToString(b), nil
}

// CheckPasswordPolicy requires at least 8 characters with an uppercase letter, a digit and a
// special character.
func CheckPasswordPolicy(password string) error {
	var upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			special = true
		}
	}
	if len([]rune(password)) < 8 || !upper || !digit || !special {
		return errWeakPassword
	}
	return nil
}
