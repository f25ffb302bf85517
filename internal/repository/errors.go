// Package repository holds the storage contracts shared by repository
// implementations.
package repository

import "errors"

// Common repository errors
var (
	ErrNotFound      = errors.New("email not found")
	ErrDuplicateKey  = errors.New("duplicate email id")
	ErrInvalidRecord = errors.New("invalid email record")
)
