// Package schema groups the builders used to declare tessera entity types:
//
//   - [field]: property builders
//   - [edge]: association builders
//   - [mixin]: reusable schema units
//
// Define an entity type by embedding tessera.Schema:
//
//	type Order struct{ tessera.Schema }
//
//	func (Order) Mixin() []tessera.Mixin {
//	    return []tessera.Mixin{
//	        mixin.CreateTime{},
//	    }
//	}
//
//	func (Order) Fields() []tessera.Field {
//	    return []tessera.Field{
//	        field.String("number").NotEmpty().Immutable(),
//	        field.Enum("status").Values("draft", "placed").Default("draft"),
//	    }
//	}
//
//	func (Order) Edges() []tessera.Edge {
//	    return []tessera.Edge{
//	        edge.To("customer", Customer.Type).Unique().Required(),
//	        edge.To("lines", OrderLine.Type).Aggregated(),
//	    }
//	}
//
// Schemas are bound into an entity model with graph.New.
package schema
