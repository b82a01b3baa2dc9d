package provisioning

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"unicode"
)

const (
	minPasswordLength       = 12
	maxPasswordBytes        = 72 // bcrypt input limit
	minPasswordClasses      = 3
	generatedPasswordLength = 16
)

// Character sets for generated passwords. Look-alike glyphs are left out.
const (
	lowerChars  = "abcdefghijkmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars  = "23456789"
	symbolChars = "!@#$%^&*-_=+?"
)

var ErrWeakPassword = errors.New("password must be at least 12 characters and mix at least three of: lowercase, uppercase, digits, symbols")

// ValidatePassword enforces the minimum policy for supplied passwords.
func ValidatePassword(pw string) error {
	if len([]rune(pw)) < minPasswordLength || len(pw) > maxPasswordBytes {
		return ErrWeakPassword
	}
	var lower, upper, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsSpace(r):
		default:
			symbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < minPasswordClasses {
		return ErrWeakPassword
	}
	return nil
}

// GeneratePassword returns a 16 character password from crypto/rand that
// contains every character class.
func GeneratePassword() (string, error) {
	classes := []string{lowerChars, upperChars, digitChars, symbolChars}
	all := strings.Join(classes, "")

	buf := make([]byte, generatedPasswordLength)
	for i := range buf {
		set := all
		if i < len(classes) {
			set = classes[i]
		}
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	// Fisher-Yates so the guaranteed classes are not always up front.
	for i := len(buf) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		buf[i], buf[j.Int64()] = buf[j.Int64()], buf[i]
	}
	return string(buf), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}
