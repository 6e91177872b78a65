// Package ident issues UUIDv7 identifiers for persisted entities.
// V7 ids are time-ordered, which gives feed tie-breaking a stable
// insertion order for equal timestamps.
package ident

import "github.com/google/uuid"

// UUIDProvider issues UUIDv7 identifiers.
type UUIDProvider struct{}

// NewUUIDProvider constructs a provider that issues UUIDv7 identifiers.
func NewUUIDProvider() *UUIDProvider {
	return &UUIDProvider{}
}

// NewID returns a fresh identifier.
func (p *UUIDProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
