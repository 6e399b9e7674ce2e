package integration

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erp/channelsync/internal/domain/integration"
)

// RegisterMappingRequest is the input to register a product mapping
type RegisterMappingRequest struct {
	SKU                string          `json:"sku" validate:"required,max=100"`
	PlatformAProductID string          `json:"platform_a_product_id" validate:"required,max=100"`
	PlatformAVariantID string          `json:"platform_a_variant_id" validate:"max=100"`
	PlatformBProductID string          `json:"platform_b_product_id" validate:"required,max=100"`
	PlatformBVariantID string          `json:"platform_b_variant_id" validate:"max=100"`
	Category           string          `json:"category" validate:"max=100"`
	Brand              string          `json:"brand" validate:"max=100"`
	MarginRate         decimal.Decimal `json:"margin_rate"`
	Direction          string          `json:"direction" validate:"required,oneof=A_TO_B B_TO_A BIDIRECTIONAL"`
}

// UpdateMappingRequest changes the admin-owned settings of a mapping.
// Nil fields are left unchanged.
type UpdateMappingRequest struct {
	MarginRate *decimal.Decimal `json:"margin_rate,omitempty"`
	Direction  *string          `json:"direction,omitempty" validate:"omitempty,oneof=A_TO_B B_TO_A BIDIRECTIONAL"`
	IsActive   *bool            `json:"is_active,omitempty"`
}

// ProductMappingResponse is the response DTO for a product mapping
type ProductMappingResponse struct {
	ID            uuid.UUID  `json:"id"`
	SKU           string     `json:"sku"`
	PlatformA     string     `json:"platform_a"`
	PlatformB     string     `json:"platform_b"`
	Category      string     `json:"category,omitempty"`
	Brand         string     `json:"brand,omitempty"`
	MarginRate    string     `json:"margin_rate"`
	Direction     string     `json:"direction"`
	IsActive      bool       `json:"is_active"`
	SyncStatus    string     `json:"sync_status"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	Discrepancy   int        `json:"discrepancy"`
	LastSyncError string     `json:"last_sync_error,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ToProductMappingResponse converts a domain ProductMapping to a response DTO
func ToProductMappingResponse(m *integration.ProductMapping) ProductMappingResponse {
	return ProductMappingResponse{
		ID:            m.ID,
		SKU:           m.SKU,
		PlatformA:     m.PlatformA.String(),
		PlatformB:     m.PlatformB.String(),
		Category:      m.Category,
		Brand:         m.Brand,
		MarginRate:    m.MarginRate.String(),
		Direction:     m.Direction.String(),
		IsActive:      m.IsActive,
		SyncStatus:    string(m.SyncStatus),
		LastSyncAt:    m.LastSyncAt,
		Discrepancy:   m.Discrepancy,
		LastSyncError: m.LastSyncError,
		UpdatedAt:     m.UpdatedAt,
	}
}

// ToProductMappingResponses converts a slice of domain ProductMappings to response DTOs
func ToProductMappingResponses(mappings []integration.ProductMapping) []ProductMappingResponse {
	responses := make([]ProductMappingResponse, len(mappings))
	for i := range mappings {
		responses[i] = ToProductMappingResponse(&mappings[i])
	}
	return responses
}
