package models

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Timeline is the audit stream of one business object, usually a project.
type Timeline struct {
	ID            int           `gorm:"primary_key" json:"id"`
	BusinessId    string        `gorm:"size:64;not null;index" json:"business_id"`
	ReferenceType ReferenceType `gorm:"size:50;index:idx_timeline_ref,priority:1" json:"reference_type"`
	ReferenceId   int           `gorm:"index:idx_timeline_ref,priority:2" json:"reference_id"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

type TimelineEntry struct {
	ID         int               `gorm:"primary_key" json:"id"`
	BusinessId string            `gorm:"size:64;not null;index" json:"business_id"`
	TimelineId int               `gorm:"index;not null" json:"timeline_id"`
	Actor      string            `gorm:"size:100" json:"actor"`
	Note       string            `gorm:"type:text" json:"note"`
	Type       TimelineEntryType `gorm:"size:50;not null" json:"type"`
	Timestamp  time.Time         `gorm:"index;not null" json:"timestamp"`
	Metadata   datatypes.JSON    `json:"metadata"`
	CreatedAt  time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

type NewTimelineEntry struct {
	Actor     string                 `json:"actor"`
	Note      string                 `json:"note" validate:"required"`
	Type      TimelineEntryType      `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// TimelineAppender adds entries to a timeline. Entries are never updated.
type TimelineAppender interface {
	AppendEntry(ctx context.Context, businessId string, timelineId int, entry NewTimelineEntry) (*TimelineEntry, error)
}

type GormTimelineAppender struct{}

func (GormTimelineAppender) AppendEntry(ctx context.Context, businessId string, timelineId int, input NewTimelineEntry) (*TimelineEntry, error) {
	if input.Type == "" {
		input.Type = TimelineEntryTypeNote
	}
	if input.Timestamp.IsZero() {
		input.Timestamp = time.Now()
	}
	entry := TimelineEntry{
		BusinessId: businessId,
		TimelineId: timelineId,
		Actor:      input.Actor,
		Note:       input.Note,
		Type:       input.Type,
		Timestamp:  input.Timestamp,
		Metadata:   marshalHistoryObject(input.Metadata),
	}
	if err := config.GetDB().WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// DefaultTimelineAppender is used after production commits.
var DefaultTimelineAppender TimelineAppender = GormTimelineAppender{}

// resolveOrderTimelineId finds the timeline an order's events go to: the project's
// own timeline_id when set, else a timeline that references the project. Returns
// 0 when the order has no project or the project has no timeline.
func resolveOrderTimelineId(db *gorm.DB, order *ManufacturingOrder) (int, error) {
	if order.ProjectId == nil || *order.ProjectId == 0 {
		return 0, nil
	}
	var project Project
	err := db.Where("business_id = ? AND id = ?", order.BusinessId, *order.ProjectId).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if project.TimelineId != nil && *project.TimelineId != 0 {
		return *project.TimelineId, nil
	}
	var timeline Timeline
	err = db.Where("business_id = ? AND reference_type = ? AND reference_id = ?", order.BusinessId, ReferenceTypeProject, project.ID).
		Order("id").Limit(1).Find(&timeline).Error
	if err != nil {
		return 0, err
	}
	return timeline.ID, nil
}

func GetTimeline(ctx context.Context, timelineId int) (*Timeline, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	var timeline Timeline
	err := config.GetDB().WithContext(ctx).Where("business_id = ? AND id = ?", businessId, timelineId).First(&timeline).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &timeline, nil
}

// GetTimelineEntries lists entries oldest first.
func GetTimelineEntries(ctx context.Context, timelineId int) ([]*TimelineEntry, error) {
	timeline, err := GetTimeline(ctx, timelineId)
	if err != nil {
		return nil, err
	}
	var entries []*TimelineEntry
	err = config.GetDB().WithContext(ctx).
		Where("business_id = ? AND timeline_id = ?", timeline.BusinessId, timeline.ID).
		Order("timestamp ASC, id ASC").Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// AddTimelineNote appends a user note to a timeline.
func AddTimelineNote(ctx context.Context, timelineId int, input *NewTimelineEntry) (*TimelineEntry, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	timeline, err := GetTimeline(ctx, timelineId)
	if err != nil {
		return nil, err
	}
	if input.Actor == "" {
		input.Actor, _ = utils.GetUserNameFromContext(ctx)
	}
	input.Type = TimelineEntryTypeNote
	return DefaultTimelineAppender.AppendEntry(ctx, timeline.BusinessId, timeline.ID, *input)
}
