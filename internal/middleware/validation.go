package middleware

import (
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// SessionHeader carries the widget's session token.
const SessionHeader = "X-Session-ID"

const (
	maxClientIDLength = 64
	maxEmailLength    = 254
	maxNameLength     = 128
	maxContentLength  = 10000
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return errors.New("content exceeds maximum length")
	}
	return nil
}

// ValidateID validates a UUID path parameter.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid ID format")
	}
	return nil
}

// ValidateClientID validates a client (tenant) identifier.
func ValidateClientID(id string) error {
	if len(id) == 0 {
		return errors.New("client ID cannot be empty")
	}
	if len(id) > maxClientIDLength {
		return errors.New("client ID exceeds maximum length")
	}
	for _, r := range id {
		if !(r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return errors.New("client ID contains invalid characters")
		}
	}
	return nil
}

// ValidateEmail validates a customer email address.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("email cannot be empty")
	}
	if len(email) > maxEmailLength {
		return errors.New("email exceeds maximum length")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.New("invalid email address")
	}
	return nil
}

// ValidateCustomerName validates an optional display name.
func ValidateCustomerName(name string) error {
	if !utf8.ValidString(name) {
		return errors.New("name must be valid UTF-8")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return errors.New("name exceeds maximum length")
	}
	return nil
}
