// Package edge provides fluent builders for declaring associations between
// entity types.
//
// Associations hold references to other entities, never the entities
// themselves. They come in three kinds:
//
//	// Many (default): an ordered list of references.
//	edge.To("lines", OrderLine.Type)
//
//	// Single: at most one reference.
//	edge.To("customer", Customer.Type).Unique()
//
//	// Named: an ordered mapping from a name to a reference.
//	edge.To("addresses", Address.Type).Named()
//
// # Aggregation
//
// An aggregated association owns its targets. Removing the source entity
// in a unit of work removes every aggregated target as well, recursively:
//
//	edge.To("lines", OrderLine.Type).Aggregated()
//
// # Constraints
//
// Required single associations must be set when the owning entity is
// completed. Immutable associations cannot be changed once the entity
// was persisted.
package edge
