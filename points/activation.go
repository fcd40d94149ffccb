package points

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashActivationCode hashes a business activation code for storage.
// An empty code yields an empty hash (self-activation disabled).
func HashActivationCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", nil
	}
	if len(code) < 4 {
		return "", validationf("activation code must have at least 4 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash activation code: %w", err)
	}
	return string(hash), nil
}

// CheckActivationCode verifies a code presented by an end-user claiming a card.
func CheckActivationCode(b Business, code string) error {
	if !b.HasActivationCode() {
		return ErrInvalidActivationCode
	}
	err := bcrypt.CompareHashAndPassword([]byte(b.ActivationCodeHash), []byte(strings.TrimSpace(code)))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidActivationCode
	}
	if err != nil {
		return fmt.Errorf("verify activation code: %w", err)
	}
	return nil
}
