// Package gen generates typed accessors for the entity types of a graph.
//
// Entities of a unit of work are untyped: properties are read with
// Entity.Value and associations through views. Generate writes one file
// per entity type holding a thin wrapper around *unitofwork.Entity, so
// application code reads
//
//	o, err := model.GetOrder(ctx, u, "o-1")
//	total, err := o.Total()
//	err = o.SetNote("fragile")
//	lines, err := o.Lines(ctx)
//
// instead of stringly typed lookups. The wrappers hold no state of their
// own; every call goes through the entity and obeys the same session
// rules.
//
// Generation is usually driven by a small program next to the schemas:
//
//	//go:build ignore
//
//	package main
//
//	func main() {
//		g := graph.MustNew(schema.Customer{}, schema.Order{}, schema.OrderLine{})
//		if err := gen.Generate(context.Background(), g, gen.Config{Target: "./model"}); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// # Output
//
// For an entity type Order the package holds:
//
//   - TypeOrder, the type name used in references.
//   - Order, the wrapper, with NewOrder, GetOrder and AsOrder.
//   - A getter and a setter per property (Total, SetTotal).
//   - Per single association a getter and a setter (Customer, SetCustomer).
//   - Per many association a getter with add and remove methods, named
//     after the singular form (Lines, AddLine, RemoveLine).
//   - Per named association lookup, put and remove methods keyed by entry
//     name (Attachment, PutAttachment, RemoveAttachment).
//
// A graph-level file lists TypeNames and a Wrap function returning the
// wrapper of any entity.
package gen
