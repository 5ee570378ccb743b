// Package uuid issues record IDs for links, entities, history rows and raw
// content.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

var _ ingest.IDGenerator = (*Generator)(nil)

// Generator issues UUIDv7 strings, which sort by creation time.
type Generator struct{}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a new v7 ID in canonical string form.
func (*Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	return id.String(), nil
}
