package services

import (
	"context"
	"fmt"
	"os"

	"github.com/trobanga/stagehand/internal/models"
	"gopkg.in/yaml.v3"
)

// Fixture is a YAML snapshot of portal data used to seed a store
type Fixture struct {
	Allocations     []models.Allocation          `yaml:"allocations"`
	AllocationUsers []models.AllocationUser      `yaml:"allocation_users"`
	StorageHistory  []models.StorageHistoryEntry `yaml:"storage_history"`
	Profiles        []ProfileFixture             `yaml:"profiles"`
}

// ProfileFixture is a user profile with its validation code history
type ProfileFixture struct {
	Username   string                    `yaml:"username"`
	Validation models.AccountValidation  `yaml:"validation"`
	History    []models.ValidationRecord `yaml:"history,omitempty"` // Oldest first
}

// Seeder loads fixture data into a store
type Seeder interface {
	Seed(ctx context.Context, fixture Fixture) error
}

// LoadFixture reads and validates a YAML fixture file
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes and validates fixture YAML
func ParseFixture(data []byte) (*Fixture, error) {
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	if err := fixture.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &fixture, nil
}

// Validate checks referential integrity and enum values
func (f *Fixture) Validate() error {
	allocations := make(map[int64]bool, len(f.Allocations))
	for _, a := range f.Allocations {
		if a.ID <= 0 {
			return fmt.Errorf("allocation id must be > 0, got %d", a.ID)
		}
		if allocations[a.ID] {
			return fmt.Errorf("duplicate allocation id %d", a.ID)
		}
		allocations[a.ID] = true
	}

	users := make(map[int64]bool, len(f.AllocationUsers))
	for _, u := range f.AllocationUsers {
		if u.ID <= 0 {
			return fmt.Errorf("allocation-user id must be > 0, got %d", u.ID)
		}
		if users[u.ID] {
			return fmt.Errorf("duplicate allocation-user id %d", u.ID)
		}
		if !allocations[u.AllocationID] {
			return fmt.Errorf("allocation-user %d refers to unknown allocation %d", u.ID, u.AllocationID)
		}
		if err := u.Validate(); err != nil {
			return err
		}
		users[u.ID] = true
	}

	for _, h := range f.StorageHistory {
		if !users[h.AllocationUserID] {
			return fmt.Errorf("storage history refers to unknown allocation-user %d", h.AllocationUserID)
		}
	}

	return nil
}
