// Package auth handles credentials, session tokens and request authorization.
package auth

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/docmanager/backend/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

var (
	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	// ErrInvalidPermission is returned for permissions outside upload, download and view.
	ErrInvalidPermission = errors.New("invalid permission")
	// ErrInvalidUsername is returned for usernames outside [A-Za-z0-9._-]{1,64}.
	ErrInvalidUsername = errors.New("username must be 1-64 letters, digits, dots, dashes or underscores")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidateUsername checks that name is usable as an account key and audit field.
func ValidateUsername(name string) error {
	if !usernamePattern.MatchString(name) {
		return ErrInvalidUsername
	}
	return nil
}

// HashPassword returns a salted bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ParsePermissions validates permission names and removes duplicates.
func ParsePermissions(items []string) ([]models.Permission, error) {
	perms := make([]models.Permission, 0, len(items))
	seen := make(map[models.Permission]bool, len(items))
	for _, item := range items {
		p := models.Permission(item)
		if !p.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPermission, item)
		}
		if !seen[p] {
			seen[p] = true
			perms = append(perms, p)
		}
	}
	return perms, nil
}
