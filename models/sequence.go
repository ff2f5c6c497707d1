package models

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sequence is a per-business monotonic counter, e.g. manufacturing order numbers.
type Sequence struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:64;not null;uniqueIndex:uniq_sequence,priority:1" json:"business_id"`
	Name       string `gorm:"size:100;not null;uniqueIndex:uniq_sequence,priority:2" json:"name"`
	Value      int64  `gorm:"not null;default:0" json:"value"`
}

// NextSequence increments and returns the named counter. tx must be an open transaction:
// the row stays locked until it commits, so concurrent callers get distinct values and a
// rolled back caller leaves the counter untouched.
func NextSequence(tx *gorm.DB, businessId string, name string) (int64, error) {
	var seq Sequence
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND name = ?", businessId, name).
		First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		seq = Sequence{BusinessId: businessId, Name: name, Value: 1}
		createErr := tx.Create(&seq).Error
		if createErr == nil {
			return 1, nil
		}
		if !isDuplicateKeyErr(createErr) {
			return 0, createErr
		}
		// lost the race to create the row; lock the winner's row
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND name = ?", businessId, name).
			First(&seq).Error
	}
	if err != nil {
		return 0, err
	}

	next := seq.Value + 1
	if err := tx.Model(&Sequence{}).Where("id = ?", seq.ID).Update("value", next).Error; err != nil {
		return 0, err
	}
	return next, nil
}
