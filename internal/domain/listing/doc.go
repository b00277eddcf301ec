// Package listing contains the Listing bounded context.
// This context turns catalog items into marketplace listings for a target category.
//
// Key concepts:
//   - CategoryProfile: target category path plus the ordered rules that produce its attributes
//   - SourceItem: immutable catalog snapshot read through a typed field accessor
//   - MappedItem: marketplace-ready item produced once per mapping pass
//   - UnitNormalizer: detects unit-bearing numbers in free text and converts them to allowed units
//   - HeuristicRegistry: named text-mining extractors used by derived attributes
//   - IdentifierAssignment: permanent binding of a pooled marketplace identifier to an item
//
// Design Pattern: Ports & Adapters
//   - Ports (repository and resolver interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package listing
