package models_test

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNextSequenceIsDistinctUnderConcurrency(t *testing.T) {
	ctx := setupDB(t)
	db := config.GetDB()

	const callers = 12
	values := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				v, err := models.NextSequence(tx, testBusinessId, "widget")
				values[i] = v
				return err
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sort.Slice(values, func(a, b int) bool { return values[a] < values[b] })
	for i, v := range values {
		assert.Equal(t, int64(i+1), v)
	}
}

func TestNextSequenceRollbackLeavesCounter(t *testing.T) {
	ctx := setupDB(t)
	db := config.GetDB()

	next := func() int64 {
		var v int64
		require.NoError(t, db.WithContext(ctx).Transaction(func(tx *gorm.DB) (err error) {
			v, err = models.NextSequence(tx, testBusinessId, "widget")
			return err
		}))
		return v
	}
	assert.Equal(t, int64(1), next())

	rollback := errors.New("rollback")
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := models.NextSequence(tx, testBusinessId, "widget")
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	assert.Equal(t, int64(2), next())
}

func TestNextSequenceIsPerBusinessAndName(t *testing.T) {
	ctx := setupDB(t)
	db := config.GetDB()

	require.NoError(t, db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range []struct {
			business string
			name     string
			want     int64
		}{
			{testBusinessId, "widget", 1},
			{testBusinessId, "widget", 2},
			{testBusinessId, "gadget", 1},
			{"biz-other", "widget", 1},
		} {
			v, err := models.NextSequence(tx, c.business, c.name)
			if err != nil {
				return err
			}
			assert.Equal(t, c.want, v, "%s/%s", c.business, c.name)
		}
		return nil
	}))
}
