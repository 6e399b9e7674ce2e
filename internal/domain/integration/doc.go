// Package integration contains the Integration bounded context.
// This context describes the two commerce platforms kept in sync and the
// products listed on both of them.
//
// Key concepts:
//   - Platform: which side of the pair (A or B) a reading or write belongs to
//   - InventoryReader/InventoryWriter/PriceReader/PriceWriter: capability ports
//     implemented by platform adapters in the infrastructure layer
//   - ProductMapping: entity associating one SKU with its identifiers on both
//     platforms plus its sync configuration
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
