package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"cms-backend/internal/apperr"

	"golang.org/x/crypto/bcrypt"
)

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
}

type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(plain string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func (h BcryptHasher) Verify(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}

const (
	MinPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordLength = 72
	specialChars      = `!@#$%^&*(),.?":{}|<>_-+=`
)

// ValidatePassword enforces the password policy: 8 to 72 bytes with at least
// one upper-case letter, lower-case letter, digit and special character.
func ValidatePassword(p string) error {
	if len(p) < MinPasswordLength {
		return apperr.Validation(fmt.Sprintf("password must be at least %d characters long", MinPasswordLength))
	}
	if len(p) > MaxPasswordLength {
		return apperr.Validation(fmt.Sprintf("password must be at most %d bytes long", MaxPasswordLength))
	}

	var upper, lower, digit, special bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(specialChars, r):
			special = true
		}
	}
	switch {
	case !upper:
		return apperr.Validation("password must contain at least one uppercase letter")
	case !lower:
		return apperr.Validation("password must contain at least one lowercase letter")
	case !digit:
		return apperr.Validation("password must contain at least one digit")
	case !special:
		return apperr.Validation("password must contain at least one special character")
	}
	return nil
}

const (
	otpUpper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	otpLower   = "abcdefghijkmnopqrstuvwxyz"
	otpDigits  = "23456789"
	otpSpecial = "!@#$%&*?"
	otpLength  = 16
)

// GenerateOneTimePassword returns a random password that satisfies
// ValidatePassword.
func GenerateOneTimePassword() (string, error) {
	all := otpUpper + otpLower + otpDigits + otpSpecial
	out := make([]byte, 0, otpLength)
	for _, set := range []string{otpUpper, otpLower, otpDigits, otpSpecial} {
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < otpLength {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates so the guaranteed classes are not always in front.
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("generate password: %w", err)
	}
	return set[n.Int64()], nil
}
