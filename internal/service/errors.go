// Package service provides business logic for the application.
package service

import (
	"errors"

	"github.com/basalt/basalt/internal/quota"
)

// Service errors.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrPasswordTooShort    = errors.New("password must be at least 8 characters")
	ErrEmailExists         = errors.New("an account with this email already exists")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountDisabled     = errors.New("account is disabled")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrAPIAccessNotAllowed = errors.New("API access requires the Pro or Enterprise tier")
	ErrAPIKeyNotFound      = errors.New("API key not found")
	ErrNotarizationFailed  = errors.New("notarization failed")
	ErrNotFound            = errors.New("not found")
	ErrEmptyFile           = errors.New("file is empty")

	// ErrQuotaExceeded is re-exported so callers need not import quota.
	ErrQuotaExceeded = quota.ErrQuotaExceeded
)

// MinPasswordLength is the shortest password accepted at signup.
const MinPasswordLength = 8
