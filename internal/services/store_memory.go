package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/juju/clock"
	"github.com/trobanga/stagehand/internal/models"
)

// MemoryStore is an in-process AllocationStore used by tests and dry runs
type MemoryStore struct {
	mu    sync.Mutex
	clock clock.Clock

	allocations     map[int64]models.Allocation
	allocationUsers map[int64]models.AllocationUser
	storageHistory  map[int64][]models.StorageHistoryEntry
	profiles        map[string]models.AccountValidation
	profileHistory  map[string][]models.ValidationRecord // Oldest first
}

// NewMemoryStore creates an empty store
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.WallClock
	}
	return &MemoryStore{
		clock:           clk,
		allocations:     make(map[int64]models.Allocation),
		allocationUsers: make(map[int64]models.AllocationUser),
		storageHistory:  make(map[int64][]models.StorageHistoryEntry),
		profiles:        make(map[string]models.AccountValidation),
		profileHistory:  make(map[string][]models.ValidationRecord),
	}
}

// Seed implements Seeder. Re-seeding keeps recorded history.
func (s *MemoryStore) Seed(ctx context.Context, fixture Fixture) error {
	if err := fixture.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range fixture.Allocations {
		s.allocations[a.ID] = a
	}
	for _, u := range fixture.AllocationUsers {
		s.allocationUsers[u.ID] = u
	}
	for _, h := range fixture.StorageHistory {
		if !hasStorageEntry(s.storageHistory[h.AllocationUserID], h) {
			s.storageHistory[h.AllocationUserID] = append(s.storageHistory[h.AllocationUserID], h)
		}
	}
	for _, p := range fixture.Profiles {
		s.profiles[p.Username] = p.Validation
		for _, r := range p.History {
			if !hasValidationEntry(s.profileHistory[p.Username], r) {
				s.profileHistory[p.Username] = append(s.profileHistory[p.Username], r)
			}
		}
		if len(p.History) == 0 && len(s.profileHistory[p.Username]) == 0 {
			s.profileHistory[p.Username] = append(s.profileHistory[p.Username], models.ValidationRecord{
				Username:   p.Username,
				Validation: p.Validation,
				RecordedAt: s.clock.Now(),
			})
		}
	}
	return nil
}

// ListStorageCandidates implements AllocationStore
func (s *MemoryStore) ListStorageCandidates(ctx context.Context, storageStatuses []models.StorageStatus, userStatuses []models.UserStatus) ([]models.AllocationUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []models.AllocationUser
	for _, u := range s.allocationUsers {
		allocation, ok := s.allocations[u.AllocationID]
		if !ok || !allocation.IsActiveStorage() {
			continue
		}
		if !containsStorageStatus(storageStatuses, u.StorageStatus) || !containsUserStatus(userStatuses, u.Status) {
			continue
		}
		candidates = append(candidates, u)
	}

	sortAllocationUsers(candidates)
	return candidates, nil
}

// GetAllocation implements AllocationStore
func (s *MemoryStore) GetAllocation(ctx context.Context, allocationID int64) (models.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.allocations[allocationID]
	if !ok {
		return models.Allocation{}, fmt.Errorf("allocation %d: %w", allocationID, models.ErrNotFound)
	}
	return a, nil
}

// GetAllocationUser implements AllocationStore
func (s *MemoryStore) GetAllocationUser(ctx context.Context, allocationUserID int64) (models.AllocationUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.allocationUsers[allocationUserID]
	if !ok {
		return models.AllocationUser{}, fmt.Errorf("allocation-user %d: %w", allocationUserID, models.ErrNotFound)
	}
	return u, nil
}

// FindAllocationUser implements AllocationStore
func (s *MemoryStore) FindAllocationUser(ctx context.Context, allocationID int64, username string) (models.AllocationUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []models.AllocationUser
	for _, u := range s.allocationUsers {
		if u.AllocationID == allocationID && u.Username == username {
			found = append(found, u)
		}
	}
	if len(found) == 0 {
		return models.AllocationUser{}, fmt.Errorf("allocation-user %s on allocation %d: %w", username, allocationID, models.ErrNotFound)
	}
	sortAllocationUsers(found)
	return found[0], nil
}

// ListAllocationUsers implements AllocationStore
func (s *MemoryStore) ListAllocationUsers(ctx context.Context) ([]models.AllocationUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]models.AllocationUser, 0, len(s.allocationUsers))
	for _, u := range s.allocationUsers {
		users = append(users, u)
	}
	sortAllocationUsers(users)
	return users, nil
}

// CountStorageHistory implements AllocationStore
func (s *MemoryStore) CountStorageHistory(ctx context.Context, allocationUserID int64, status models.StorageStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, h := range s.storageHistory[allocationUserID] {
		if h.StorageStatus == status {
			count++
		}
	}
	return count, nil
}

// TransitionStorageStatus implements AllocationStore
func (s *MemoryStore) TransitionStorageStatus(ctx context.Context, allocationUserID int64, from, to models.StorageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.allocationUsers[allocationUserID]
	if !ok {
		return fmt.Errorf("allocation-user %d: %w", allocationUserID, models.ErrNotFound)
	}
	if u.StorageStatus != from {
		return fmt.Errorf("allocation-user %d is %s, expected %s: %w", allocationUserID, u.StorageStatus, from, models.ErrStatusConflict)
	}

	u.StorageStatus = to
	s.allocationUsers[allocationUserID] = u
	s.storageHistory[allocationUserID] = append(s.storageHistory[allocationUserID], models.StorageHistoryEntry{
		AllocationUserID: allocationUserID,
		StorageStatus:    to,
		RecordedAt:       s.clock.Now(),
	})
	return nil
}

// ListActiveStorageAllocations implements AllocationStore
func (s *MemoryStore) ListActiveStorageAllocations(ctx context.Context) ([]models.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var allocations []models.Allocation
	for _, a := range s.allocations {
		if a.IsActiveStorage() {
			allocations = append(allocations, a)
		}
	}
	sort.Slice(allocations, func(i, j int) bool {
		return allocations[i].ID < allocations[j].ID
	})
	return allocations, nil
}

// SetUsage implements AllocationStore
func (s *MemoryStore) SetUsage(ctx context.Context, allocationID int64, attributeName string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.allocations[allocationID]
	if !ok {
		return fmt.Errorf("allocation %d: %w", allocationID, models.ErrNotFound)
	}

	attrs := make([]models.RawAttribute, len(a.Attributes))
	copy(attrs, a.Attributes)
	for i := range attrs {
		if attrs[i].Name == attributeName {
			v := value
			attrs[i].Usage = &v
			a.Attributes = attrs
			s.allocations[allocationID] = a
			return nil
		}
	}
	return fmt.Errorf("attribute %q on allocation %d: %w", attributeName, allocationID, models.ErrNotFound)
}

// AccountValidation implements AllocationStore
func (s *MemoryStore) AccountValidation(ctx context.Context, username string) (models.AccountValidation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.profiles[username]
	if !ok {
		return "", fmt.Errorf("profile %s: %w", username, models.ErrNotFound)
	}
	return v, nil
}

// AccountValidationHistory implements AllocationStore
func (s *MemoryStore) AccountValidationHistory(ctx context.Context, username string, n int) ([]models.ValidationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[username]; !ok {
		return nil, fmt.Errorf("profile %s: %w", username, models.ErrNotFound)
	}

	history := s.profileHistory[username]
	records := make([]models.ValidationRecord, 0, n)
	for i := len(history) - 1; i >= 0 && len(records) < n; i-- {
		records = append(records, history[i])
	}
	return records, nil
}

// SetAccountValidation implements AllocationStore
func (s *MemoryStore) SetAccountValidation(ctx context.Context, username string, code models.AccountValidation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[username]; !ok {
		return fmt.Errorf("profile %s: %w", username, models.ErrNotFound)
	}
	s.profiles[username] = code
	s.profileHistory[username] = append(s.profileHistory[username], models.ValidationRecord{
		Username:   username,
		Validation: code,
		RecordedAt: s.clock.Now(),
	})
	return nil
}

// Close implements AllocationStore
func (s *MemoryStore) Close() error {
	return nil
}

// sortAllocationUsers orders by allocation id, ties broken by allocation-user id (insertion order)
func sortAllocationUsers(users []models.AllocationUser) {
	sort.Slice(users, func(i, j int) bool {
		if users[i].AllocationID != users[j].AllocationID {
			return users[i].AllocationID < users[j].AllocationID
		}
		return users[i].ID < users[j].ID
	})
}

func hasStorageEntry(history []models.StorageHistoryEntry, entry models.StorageHistoryEntry) bool {
	for _, h := range history {
		if h.StorageStatus == entry.StorageStatus && h.RecordedAt.Equal(entry.RecordedAt) {
			return true
		}
	}
	return false
}

func hasValidationEntry(history []models.ValidationRecord, record models.ValidationRecord) bool {
	for _, r := range history {
		if r.Validation == record.Validation && r.RecordedAt.Equal(record.RecordedAt) {
			return true
		}
	}
	return false
}
