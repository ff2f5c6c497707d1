package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/utils"
	"gorm.io/gorm"
)

type Product struct {
	ID             int                   `gorm:"primary_key" json:"id"`
	BusinessId     string                `gorm:"size:64;index;not null" json:"business_id"`
	Name           string                `gorm:"size:100;not null" json:"name"`
	Sku            string                `gorm:"size:100;index" json:"sku"`
	Qty            decimal.Decimal       `gorm:"type:decimal(20,4);not null;default:0" json:"qty"`
	IsManufactured bool                  `gorm:"not null;default:false" json:"is_manufactured"`
	BomLines       []ProductBomLine      `gorm:"foreignKey:ProductId" json:"bom"`
	StepTemplates  []ProductStepTemplate `gorm:"foreignKey:ProductId" json:"manufacturing_steps"`
	CreatedAt      time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProductBomLine is one component of a product's default bill of materials.
type ProductBomLine struct {
	ID          int             `gorm:"primary_key" json:"id"`
	ProductId   int             `gorm:"index;not null" json:"product_id"`
	Position    int             `gorm:"not null;default:0" json:"position"`
	ComponentId int             `gorm:"index;not null" json:"component_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
}

// ProductStepTemplate is copied onto new manufacturing orders for the product.
type ProductStepTemplate struct {
	ID          int    `gorm:"primary_key" json:"id"`
	ProductId   int    `gorm:"index;not null" json:"product_id"`
	Position    int    `gorm:"not null;default:0" json:"position"`
	Description string `gorm:"type:text;not null" json:"description"`
}

type NewBomLine struct {
	Product ProductRef      `json:"product"`
	Qty     decimal.Decimal `json:"qty"`
}

type NewProduct struct {
	Name           string          `json:"name" validate:"required,max=100"`
	Sku            string          `json:"sku" validate:"max=100"`
	Qty            decimal.Decimal `json:"qty"`
	IsManufactured bool            `json:"is_manufactured"`
	Bom            []NewBomLine    `json:"bom"`
	Steps          []string        `json:"manufacturing_steps"`
}

func (p Product) GetBusinessId() string {
	return p.BusinessId
}

func (input NewProduct) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.Qty.IsNegative() {
		return utils.NewValidationError("qty", "must not be negative")
	}
	for i, line := range input.Bom {
		if !line.Product.IsSet() {
			return utils.NewValidationError(fmt.Sprintf("bom[%d].product", i), "is required")
		}
		if !line.Qty.IsPositive() {
			return utils.NewValidationError(fmt.Sprintf("bom[%d].qty", i), "must be greater than 0")
		}
	}
	for i, step := range input.Steps {
		if utils.IsBlank(step) {
			return utils.NewValidationError(fmt.Sprintf("manufacturing_steps[%d]", i), "must not be blank")
		}
	}
	return nil
}

// validateComponents checks every referenced component exists in the business.
func validateComponents(tx *gorm.DB, businessId string, selfId int, lines []NewBomLine) error {
	ids := make([]int, 0, len(lines))
	for i, line := range lines {
		if selfId != 0 && line.Product.Id == selfId {
			return utils.NewValidationError(fmt.Sprintf("bom[%d].product", i), "a product cannot be its own component")
		}
		ids = append(ids, line.Product.Id)
	}
	ids = utils.UniqueSlice(ids)
	if len(ids) == 0 {
		return nil
	}
	var count int64
	if err := tx.Model(&Product{}).Where("business_id = ? AND id IN ?", businessId, ids).Count(&count).Error; err != nil {
		return err
	}
	if int(count) != len(ids) {
		return utils.NewValidationError("bom", "references a product that does not exist")
	}
	return nil
}

func buildProductTemplates(input NewProduct) ([]ProductBomLine, []ProductStepTemplate) {
	lines := make([]ProductBomLine, 0, len(input.Bom))
	for i, l := range input.Bom {
		lines = append(lines, ProductBomLine{Position: i, ComponentId: l.Product.Id, Qty: l.Qty})
	}
	steps := make([]ProductStepTemplate, 0, len(input.Steps))
	for i, s := range input.Steps {
		steps = append(steps, ProductStepTemplate{Position: i, Description: strings.TrimSpace(s)})
	}
	return lines, steps
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	lines, steps := buildProductTemplates(*input)
	product := Product{
		BusinessId:     businessId,
		Name:           strings.TrimSpace(input.Name),
		Sku:            strings.TrimSpace(input.Sku),
		Qty:            input.Qty,
		IsManufactured: input.IsManufactured || len(lines) > 0 || len(steps) > 0,
		BomLines:       lines,
		StepTemplates:  steps,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := validateComponents(tx, businessId, 0, input.Bom); err != nil {
			return err
		}
		if err := tx.Create(&product).Error; err != nil {
			return err
		}
		if product.Qty.IsPositive() {
			movement := InventoryMovement{
				BusinessId:    businessId,
				ProductId:     product.ID,
				Delta:         product.Qty,
				QtyAfter:      product.Qty,
				ReferenceType: ReferenceTypeProduct,
				ReferenceId:   product.ID,
				Description:   "Opening stock",
			}
			if err := tx.Create(&movement).Error; err != nil {
				return err
			}
		}
		return createHistory(tx, historyActionCreate, product.ID, ReferenceTypeProduct, nil, product, "Created Product "+product.Name)
	})
	if err != nil {
		return nil, utils.Persistence(err)
	}
	return &product, nil
}

// UpdateProduct replaces name, sku and the BOM/step templates. Quantity changes go
// through AdjustProductQty so they are recorded as movements.
func UpdateProduct(ctx context.Context, productId int, input *NewProduct) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	lines, steps := buildProductTemplates(*input)

	db := config.GetDB()
	var oldProduct Product
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := preloadOrdered(tx, "BomLines", "StepTemplates").
			Where("business_id = ? AND id = ?", businessId, productId).First(&oldProduct).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorRecordNotFound
		} else if err != nil {
			return err
		}
		if err := validateComponents(tx, businessId, productId, input.Bom); err != nil {
			return err
		}
		if err := tx.Where("product_id = ?", productId).Delete(&ProductBomLine{}).Error; err != nil {
			return err
		}
		if err := tx.Where("product_id = ?", productId).Delete(&ProductStepTemplate{}).Error; err != nil {
			return err
		}
		for i := range lines {
			lines[i].ProductId = productId
		}
		for i := range steps {
			steps[i].ProductId = productId
		}
		if len(lines) > 0 {
			if err := tx.Create(&lines).Error; err != nil {
				return err
			}
		}
		if len(steps) > 0 {
			if err := tx.Create(&steps).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&Product{}).Where("business_id = ? AND id = ?", businessId, productId).
			Updates(map[string]interface{}{
				"name":            strings.TrimSpace(input.Name),
				"sku":             strings.TrimSpace(input.Sku),
				"is_manufactured": input.IsManufactured || len(lines) > 0 || len(steps) > 0,
			}).Error; err != nil {
			return err
		}
		return createHistory(tx, historyActionUpdate, productId, ReferenceTypeProduct, oldProduct, input, "Updated Product "+input.Name)
	})
	if err != nil {
		return nil, utils.Persistence(err)
	}
	invalidateCache[Product](ctx, "product.go", productId)
	return GetProduct(ctx, productId)
}

func GetProduct(ctx context.Context, productId int) (*Product, error) {
	return GetResource[Product](ctx, productId, "BomLines", "StepTemplates")
}

func ListProducts(ctx context.Context) ([]*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	var results []*Product
	if err := config.GetDB().WithContext(ctx).Where("business_id = ?", businessId).Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetProductsByIds returns the products found, keyed by id. Missing ids are absent.
func GetProductsByIds(ctx context.Context, db *gorm.DB, businessId string, ids []int) (map[int]*Product, error) {
	results := make(map[int]*Product, len(ids))
	ids = utils.UniqueSlice(ids)
	if len(ids) == 0 {
		return results, nil
	}
	var products []*Product
	if err := db.WithContext(ctx).Where("business_id = ? AND id IN ?", businessId, ids).Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		results[p.ID] = p
	}
	return results, nil
}
