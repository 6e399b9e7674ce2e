package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/erp/channelsync/internal/domain/integration"
)

// ProductMappingModel is the persistence model for the ProductMapping entity.
type ProductMappingModel struct {
	BaseModel
	SKU              string                    `gorm:"type:varchar(100);not null;uniqueIndex"`
	PlatformAProduct string                    `gorm:"column:platform_a_product_id;type:varchar(100);not null"`
	PlatformAVariant string                    `gorm:"column:platform_a_variant_id;type:varchar(100)"`
	PlatformBProduct string                    `gorm:"column:platform_b_product_id;type:varchar(100);not null"`
	PlatformBVariant string                    `gorm:"column:platform_b_variant_id;type:varchar(100)"`
	Category         string                    `gorm:"type:varchar(100);index"`
	Brand            string                    `gorm:"type:varchar(100);index"`
	MarginRate       decimal.Decimal           `gorm:"type:decimal(10,4);not null"`
	Direction        integration.SyncDirection `gorm:"type:varchar(20);not null"`
	IsActive         bool                      `gorm:"not null;index"`
	SyncStatus       integration.SyncStatus    `gorm:"type:varchar(20);not null;default:'PENDING'"`
	LastSyncAt       *time.Time
	Discrepancy      int    `gorm:"not null;default:0;index"`
	LastSyncError    string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (ProductMappingModel) TableName() string {
	return "product_mappings"
}

// ToDomain converts the persistence model to a domain ProductMapping entity.
func (m *ProductMappingModel) ToDomain() *integration.ProductMapping {
	return &integration.ProductMapping{
		ID:            m.ID,
		SKU:           m.SKU,
		PlatformA:     integration.ProductRef{ProductID: m.PlatformAProduct, VariantID: m.PlatformAVariant},
		PlatformB:     integration.ProductRef{ProductID: m.PlatformBProduct, VariantID: m.PlatformBVariant},
		Category:      m.Category,
		Brand:         m.Brand,
		MarginRate:    m.MarginRate,
		Direction:     m.Direction,
		IsActive:      m.IsActive,
		SyncStatus:    m.SyncStatus,
		LastSyncAt:    m.LastSyncAt,
		Discrepancy:   m.Discrepancy,
		LastSyncError: m.LastSyncError,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain ProductMapping entity.
func (m *ProductMappingModel) FromDomain(pm *integration.ProductMapping) {
	m.ID = pm.ID
	m.SKU = pm.SKU
	m.PlatformAProduct = pm.PlatformA.ProductID
	m.PlatformAVariant = pm.PlatformA.VariantID
	m.PlatformBProduct = pm.PlatformB.ProductID
	m.PlatformBVariant = pm.PlatformB.VariantID
	m.Category = pm.Category
	m.Brand = pm.Brand
	m.MarginRate = pm.MarginRate
	m.Direction = pm.Direction
	m.IsActive = pm.IsActive
	m.SyncStatus = pm.SyncStatus
	m.LastSyncAt = pm.LastSyncAt
	m.Discrepancy = pm.Discrepancy
	m.LastSyncError = pm.LastSyncError
	m.CreatedAt = pm.CreatedAt
	m.UpdatedAt = pm.UpdatedAt
}

// ProductMappingModelFromDomain creates a new persistence model from a domain ProductMapping entity.
func ProductMappingModelFromDomain(pm *integration.ProductMapping) *ProductMappingModel {
	m := &ProductMappingModel{}
	m.FromDomain(pm)
	return m
}
