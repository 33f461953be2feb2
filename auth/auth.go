// Package auth looks up users by phone number and registers them on first
// contact.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/width"

	"github.com/LukasParke/callkit/serializer"
)

// ErrUserNotFound is returned by a Directory when no user matches.
var ErrUserNotFound = errors.New("auth: user not found")

// User is a directory entry.
type User struct {
	UID         string               `json:"uid"`
	PhoneNumber string               `json:"phoneNumber"`
	Disabled    bool                 `json:"disabled"`
	CreatedAt   serializer.Timestamp `json:"createdAt"`
}

// Directory stores users.
type Directory interface {
	// GetUserByPhoneNumber returns ErrUserNotFound when no user has phone.
	GetUserByPhoneNumber(ctx context.Context, phone string) (*User, error)
	CreateUser(ctx context.Context, phone string) (*User, error)
}

// PhoneNumberError reports a phone number that cannot be normalized. It
// carries a 400 status.
type PhoneNumberError struct {
	Input string
}

func (e *PhoneNumberError) Error() string {
	return fmt.Sprintf("auth: invalid phone number %q", e.Input)
}

// HTTPStatus implements the status lookup used by callkit.
func (e *PhoneNumberError) HTTPStatus() int { return http.StatusBadRequest }

// NormalizePhoneNumber returns phone in E.164 form. Full-width characters
// are folded, spaces, dots, dashes and parentheses are dropped, a leading
// 00 becomes +, and a + is added when missing. The result must have 8 to
// 15 digits.
func NormalizePhoneNumber(phone string) (string, error) {
	s := width.Fold.String(strings.TrimSpace(phone))
	var b strings.Builder
	b.Grow(len(s) + 1)
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '\u00a0' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", &PhoneNumberError{Input: phone}
		}
	}
	digits := b.String()
	if !strings.HasPrefix(s, "+") {
		digits = strings.TrimPrefix(digits, "00")
	}
	if len(digits) < 8 || len(digits) > 15 || digits[0] == '0' {
		return "", &PhoneNumberError{Input: phone}
	}
	return "+" + digits, nil
}

// GetOrRegisterUserByPhoneNumber returns the user with phone, creating an
// enabled user when there is none. The number is normalized first.
func GetOrRegisterUserByPhoneNumber(ctx context.Context, dir Directory, phone string) (*User, error) {
	normalized, err := NormalizePhoneNumber(phone)
	if err != nil {
		return nil, err
	}
	u, err := dir.GetUserByPhoneNumber(ctx, normalized)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("looking up %s: %w", normalized, err)
	}
	u, err = dir.CreateUser(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", normalized, err)
	}
	return u, nil
}
