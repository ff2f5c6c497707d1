package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/utils"
	"gorm.io/gorm"
)

type Project struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"size:64;not null;index" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	TimelineId *int      `gorm:"index" json:"timeline_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProject struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (p Project) GetBusinessId() string {
	return p.BusinessId
}

// CreateProject creates the project with its own timeline.
func CreateProject(ctx context.Context, input *NewProject) (*Project, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	project := Project{BusinessId: businessId, Name: strings.TrimSpace(input.Name)}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&project).Error; err != nil {
			return err
		}
		timeline := Timeline{BusinessId: businessId, ReferenceType: ReferenceTypeProject, ReferenceId: project.ID}
		if err := tx.Create(&timeline).Error; err != nil {
			return err
		}
		project.TimelineId = &timeline.ID
		if err := tx.Model(&Project{}).Where("id = ?", project.ID).Update("timeline_id", timeline.ID).Error; err != nil {
			return err
		}
		return createHistory(tx, historyActionCreate, project.ID, ReferenceTypeProject, nil, project, "Created Project "+project.Name)
	})
	if err != nil {
		return nil, utils.Persistence(err)
	}
	return &project, nil
}

func GetProject(ctx context.Context, projectId int) (*Project, error) {
	return GetResource[Project](ctx, projectId)
}

func ListProjects(ctx context.Context) ([]*Project, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	var results []*Project
	if err := config.GetDB().WithContext(ctx).Where("business_id = ?", businessId).Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
