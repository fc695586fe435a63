package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/stagehand/internal/models"
	"github.com/trobanga/stagehand/internal/services"
)

func TestLoadFixture(t *testing.T) {
	fixture, err := services.LoadFixture("testdata/portal.yaml")
	require.NoError(t, err)

	assert.Len(t, fixture.Allocations, 2)
	assert.Len(t, fixture.AllocationUsers, 3)
	assert.Len(t, fixture.Profiles, 3)

	alloc := fixture.Allocations[0]
	assert.Equal(t, models.ResourceTypeStorage, alloc.ResourceType)
	assert.Len(t, alloc.Attributes, 4)
	assert.True(t, alloc.Attributes[0].HasUsage)

	bob := fixture.AllocationUsers[1]
	assert.Equal(t, models.PermissionReadOnly, bob.StoragePermission)
	assert.Equal(t, models.StorageStatusNewPermissions, bob.StorageStatus)

	assert.Equal(t, models.ValidationError, fixture.Profiles[1].Validation)
	assert.Len(t, fixture.Profiles[1].History, 2)
}

func TestParseFixture_Rejects(t *testing.T) {
	cases := map[string]string{
		"duplicate allocation": `
allocations:
  - {id: 1, pi: a, status: Active, resource_type: Storage}
  - {id: 1, pi: b, status: Active, resource_type: Storage}
`,
		"unknown allocation": `
allocation_users:
  - {id: 5, allocation_id: 9, username: a, status: Active, storage_status: New, storage_permission: None}
`,
		"bad storage status": `
allocations:
  - {id: 1, pi: a, status: Active, resource_type: Storage}
allocation_users:
  - {id: 5, allocation_id: 1, username: a, status: Active, storage_status: Done, storage_permission: None}
`,
		"bad permission": `
allocations:
  - {id: 1, pi: a, status: Active, resource_type: Storage}
allocation_users:
  - {id: 5, allocation_id: 1, username: a, status: Active, storage_status: New, storage_permission: Write}
`,
		"orphan history": `
storage_history:
  - {allocation_user_id: 3, storage_status: New}
`,
		"not yaml": "allocations: [",
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := services.ParseFixture([]byte(data))
			assert.Error(t, err)
		})
	}
}
