package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiz/ops_backend/models"
	"gopkg.in/yaml.v3"
)

// fixture is the seed file layout. Components and orders refer to products by sku.
//
//	products:
//	  - sku: LEG
//	    name: Table leg
//	    qty: "40"
//	  - sku: TBL
//	    name: Table
//	    manufactured: true
//	    components: [{sku: LEG, qty: "4"}]
//	    steps: [Cut, Sand, Assemble]
//	projects: [{name: Kitchen refit}]
//	orders:
//	  - product: TBL
//	    project: Kitchen refit
type fixture struct {
	Products []fixtureProduct `yaml:"products"`
	Projects []struct {
		Name string `yaml:"name"`
	} `yaml:"projects"`
	Orders []fixtureOrder `yaml:"orders"`
}

type fixtureProduct struct {
	Sku          string             `yaml:"sku"`
	Name         string             `yaml:"name"`
	Qty          string             `yaml:"qty"`
	Manufactured bool               `yaml:"manufactured"`
	Components   []fixtureComponent `yaml:"components"`
	Steps        []string           `yaml:"steps"`
}

type fixtureComponent struct {
	Sku string `yaml:"sku"`
	Qty string `yaml:"qty"`
}

type fixtureOrder struct {
	Product string `yaml:"product"`
	Project string `yaml:"project"`
	Notes   string `yaml:"notes"`
}

type seedSummary struct {
	products int
	projects int
	orders   int
}

func parseFixture(data []byte) (*fixture, error) {
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &f, nil
}

func parseQty(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// apply creates products in file order, so components must be listed before
// the products that use them.
func (f *fixture) apply(ctx context.Context) (seedSummary, error) {
	var summary seedSummary
	productIds := make(map[string]int)

	for _, p := range f.Products {
		qty, err := parseQty(p.Qty)
		if err != nil {
			return summary, fmt.Errorf("product %s: qty: %w", p.Sku, err)
		}
		input := models.NewProduct{
			Name:           p.Name,
			Sku:            p.Sku,
			Qty:            qty,
			IsManufactured: p.Manufactured,
			Steps:          p.Steps,
		}
		for _, c := range p.Components {
			id, ok := productIds[c.Sku]
			if !ok {
				return summary, fmt.Errorf("product %s: unknown component sku %s", p.Sku, c.Sku)
			}
			cq, err := parseQty(c.Qty)
			if err != nil {
				return summary, fmt.Errorf("product %s: component %s qty: %w", p.Sku, c.Sku, err)
			}
			input.Bom = append(input.Bom, models.NewBomLine{Product: models.ProductRef{Id: id}, Qty: cq})
		}
		product, err := models.CreateProduct(ctx, &input)
		if err != nil {
			return summary, fmt.Errorf("product %s: %w", p.Sku, err)
		}
		productIds[p.Sku] = product.ID
		summary.products++
	}

	projectIds := make(map[string]int)
	for _, p := range f.Projects {
		project, err := models.CreateProject(ctx, &models.NewProject{Name: p.Name})
		if err != nil {
			return summary, fmt.Errorf("project %s: %w", p.Name, err)
		}
		projectIds[p.Name] = project.ID
		summary.projects++
	}

	for i, o := range f.Orders {
		productId, ok := productIds[o.Product]
		if !ok {
			return summary, fmt.Errorf("order %d: unknown product sku %s", i+1, o.Product)
		}
		input := models.NewManufacturingOrder{Product: models.ProductRef{Id: productId}, Notes: o.Notes}
		if o.Project != "" {
			projectId, ok := projectIds[o.Project]
			if !ok {
				return summary, fmt.Errorf("order %d: unknown project %s", i+1, o.Project)
			}
			input.ProjectId = &projectId
		}
		if _, err := models.CreateManufacturingOrder(ctx, &input); err != nil {
			return summary, fmt.Errorf("order %d: %w", i+1, err)
		}
		summary.orders++
	}
	return summary, nil
}
