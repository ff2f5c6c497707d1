package models_test

import (
	"testing"
	"time"

	"github.com/smallbiz/ops_backend/models"
	"github.com/smallbiz/ops_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectTimelineNotes(t *testing.T) {
	ctx := setupDB(t)
	project, err := models.CreateProject(ctx, &models.NewProject{Name: "Cafe fit-out"})
	require.NoError(t, err)
	require.NotNil(t, project.TimelineId)

	timeline, err := models.GetTimeline(ctx, *project.TimelineId)
	require.NoError(t, err)
	assert.Equal(t, models.ReferenceTypeProject, timeline.ReferenceType)
	assert.Equal(t, project.ID, timeline.ReferenceId)

	_, err = models.AddTimelineNote(ctx, *project.TimelineId, &models.NewTimelineEntry{})
	assert.ErrorIs(t, err, utils.ErrValidation)

	later := time.Now().Add(time.Hour)
	_, err = models.AddTimelineNote(ctx, *project.TimelineId, &models.NewTimelineEntry{Note: "second", Timestamp: later})
	require.NoError(t, err)
	first, err := models.AddTimelineNote(ctx, *project.TimelineId, &models.NewTimelineEntry{Note: "first", Type: models.TimelineEntryTypeManufacturingOrderCompleted})
	require.NoError(t, err)
	assert.Equal(t, models.TimelineEntryTypeNote, first.Type, "user notes are always notes")
	assert.Equal(t, "Aye Aye", first.Actor)

	entries, err := models.GetTimelineEntries(ctx, *project.TimelineId)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Note)
	assert.Equal(t, "second", entries[1].Note)

	_, err = models.GetTimelineEntries(businessCtx("biz-other"), *project.TimelineId)
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)

	projects, err := models.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}
