package models

import (
	"log"

	"github.com/smallbiz/ops_backend/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&History{},
		&IdempotencyKey{},
		&Invoice{},
		&InventoryMovement{},
		&ManufacturingOrder{}, &ManufacturingStep{}, &ManufacturingStepPhoto{}, &ManufacturingBomLine{},
		&Product{}, &ProductBomLine{}, &ProductStepTemplate{},
		&Project{},
		&PubSubMessageRecord{},
		&Sequence{},
		&Timeline{}, &TimelineEntry{},
	)
}
