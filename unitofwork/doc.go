// Package unitofwork implements transactional sessions over entities.
//
// A Factory binds an entity graph to a store. Each UnitOfWork it opens is
// an identity map: every entity is loaded at most once per session and
// repeated lookups of one reference return the same *Entity. Mutations are
// written into the session's private copy of the entity state and only
// reach the store when the session completes:
//
//	uow, err := factory.NewUnitOfWork(ctx, unitofwork.WithUsecase(usecase))
//	if err != nil {
//		return err
//	}
//	defer uow.Discard()
//	order, err := uow.Get(ctx, "Order", id)
//	if err != nil {
//		return err
//	}
//	if err := order.SetValue("status", "shipped"); err != nil {
//		return err
//	}
//	return uow.Complete(ctx)
//
// Completion validates every created or updated entity, aggregates all
// constraint violations into one error and submits the batch of changed
// states to the store, which applies it atomically under optimistic
// concurrency control. A failed completion leaves the session open with
// its edits intact; the version tokens of its entities are untouched, so
// entities involved in a concurrent modification must be refreshed before
// the completion is retried.
//
// A UnitOfWork is not safe for concurrent use. Pause and Resume hand a
// session between call chains; NewContext and FromContext carry it down a
// single one.
package unitofwork
