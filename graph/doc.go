// Package graph binds entity schemas into the entity model used at runtime.
//
// New is the one-time bind step: it resolves mixins, properties,
// associations and lifecycle hooks of every schema, checks them and indexes
// every accessor, so that later lookups are constant time map reads. All
// problems (duplicate types or accessors, unknown association targets,
// misused builders) are collected into one *AssemblyError:
//
//	g, err := graph.New(Order{}, OrderLine{}, Customer{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	order, _ := g.Type("Order")
//	total, _ := order.Field("total")
//
// A Graph is immutable once built and safe for concurrent use by any
// number of units of work.
package graph
