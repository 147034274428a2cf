package properties

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/dbtest"
)

func TestFindOwnedChecksOwner(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	owner := uuid.New()
	property, err := repo.Create(ctx, owner, "1 Main St")
	require.NoError(t, err)

	found, err := repo.FindOwned(ctx, property.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "1 Main St", found.Address)

	_, err = repo.FindOwned(ctx, property.ID, uuid.New())
	assert.True(t, db.IsNotFound(err))
}
