package integration

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/shared"
)

// ProductMappingService holds the admin operations on product mappings.
// Mappings are never deleted, only deactivated.
type ProductMappingService struct {
	mappingRepo integration.ProductMappingRepository
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewProductMappingService creates a new ProductMappingService
func NewProductMappingService(mappingRepo integration.ProductMappingRepository, logger *zap.Logger) *ProductMappingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductMappingService{
		mappingRepo: mappingRepo,
		validate:    validator.New(),
		logger:      logger,
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// RegisterMapping creates a mapping for a SKU that is not mapped yet
func (s *ProductMappingService) RegisterMapping(ctx context.Context, req RegisterMappingRequest) (*integration.ProductMapping, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.NewValidationError(err.Error())
	}

	existing, err := s.mappingRepo.FindBySKU(ctx, req.SKU)
	if err != nil && !errors.Is(err, integration.ErrMappingNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, shared.ErrAlreadyExists
	}

	mapping, err := integration.NewProductMapping(
		req.SKU,
		integration.ProductRef{ProductID: req.PlatformAProductID, VariantID: req.PlatformAVariantID},
		integration.ProductRef{ProductID: req.PlatformBProductID, VariantID: req.PlatformBVariantID},
		req.MarginRate,
		integration.SyncDirection(req.Direction),
	)
	if err != nil {
		return nil, err
	}
	mapping.Category = req.Category
	mapping.Brand = req.Brand

	if err := s.mappingRepo.Save(ctx, mapping); err != nil {
		return nil, err
	}
	s.logger.Info("Product mapping registered", zap.String("sku", mapping.SKU), zap.String("direction", mapping.Direction.String()))
	return mapping, nil
}

// UpdateMapping applies margin, direction and activation changes
func (s *ProductMappingService) UpdateMapping(ctx context.Context, sku string, req UpdateMappingRequest) (*integration.ProductMapping, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.NewValidationError(err.Error())
	}

	mapping, err := s.mappingRepo.FindBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}

	if req.MarginRate != nil {
		if err := mapping.UpdateMargin(*req.MarginRate); err != nil {
			return nil, err
		}
	}
	if req.Direction != nil {
		if err := mapping.ChangeDirection(integration.SyncDirection(*req.Direction)); err != nil {
			return nil, err
		}
	}
	if req.IsActive != nil {
		if *req.IsActive {
			mapping.Activate()
		} else {
			mapping.Deactivate()
		}
	}

	if err := s.mappingRepo.Save(ctx, mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// GetMapping returns the mapping of a SKU
func (s *ProductMappingService) GetMapping(ctx context.Context, sku string) (*integration.ProductMapping, error) {
	return s.mappingRepo.FindBySKU(ctx, sku)
}

// ListActive returns every active mapping
func (s *ProductMappingService) ListActive(ctx context.Context) ([]integration.ProductMapping, error) {
	return s.mappingRepo.FindActive(ctx)
}
