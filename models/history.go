package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type History struct {
	ID            int            `gorm:"primary_key" json:"id"`
	BusinessId    string         `gorm:"size:64;index;not null" json:"business_id"`
	ActionType    string         `gorm:"size:10;not null" json:"action_type"`
	Before        datatypes.JSON `json:"before"`
	After         datatypes.JSON `json:"after"`
	Description   string         `gorm:"type:text;not null" json:"description"`
	ReferenceID   int            `gorm:"index" json:"reference_id"`
	ReferenceType ReferenceType  `gorm:"size:50" json:"reference_type"`
	UserId        int            `gorm:"index;not null" json:"user_id"`
	UserName      string         `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

const (
	historyActionCreate  = "CREATE"
	historyActionUpdate  = "UPDATE"
	historyActionDelete  = "DELETE"
	historyActionProduce = "PRODUCE"
	historyActionPayment = "PAYMENT"
)

// systemUserName is recorded when no user is attached to the context (CLI, webhooks).
const systemUserName = "System"

func marshalHistoryObject(obj interface{}) datatypes.JSON {
	if obj == nil {
		return nil
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func createHistory(tx *gorm.DB,
	actionType string,
	referenceId int,
	referenceType ReferenceType,
	before interface{},
	after interface{},
	description string) error {

	ctx := tx.Statement.Context
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok || userName == "" {
		userName = systemUserName
	}

	history := History{
		BusinessId:    businessId,
		ActionType:    actionType,
		Before:        marshalHistoryObject(before),
		After:         marshalHistoryObject(after),
		Description:   description,
		ReferenceID:   referenceId,
		ReferenceType: referenceType,
		UserId:        userId,
		UserName:      userName,
	}
	if err := tx.Create(&history).Error; err != nil {
		config.LogError(config.GetLogger(), "history.go", "createHistory", "Creating history", history.Description, err)
		return err
	}
	return nil
}

func ListHistories(ctx context.Context, referenceType ReferenceType, referenceId int) ([]*History, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	var results []*History
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?", businessId, referenceType, referenceId).
		Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
