// Package optimistic implements optimistic cache mutations: apply the
// expected result to the local cache immediately, call the server, and
// either commit or roll back to a snapshot when the call fails.
//
// # State machine
//
// Every Do call walks the same lifecycle:
//
//	Idle → Cancelling → OptimisticApplied → InFlight → Committed | RolledBack
//
// Cancelling aborts in-flight reads of the target partition so a stale
// response cannot overwrite the optimistic write. OptimisticApplied takes a
// snapshot and applies the tentative transform; it is skipped when the
// mutation has none. InFlight is the remote call, the only asynchronous
// step. Commit discards the snapshot, folds the server response into the
// partition, triggers smart invalidation, and emits one success
// notification. Rollback restores the snapshot unconditionally, emits
// exactly one error notification, and returns the classified error; it
// never invalidates.
//
// # Usage
//
// Mutations are built once per call site from a config and reused:
//
//	createOrder, err := optimistic.NewCreateMutation(optimistic.CreateConfig[OrderInput, Order]{
//		Config: optimistic.Config[Order]{
//			Store:    store,
//			Key:      querycache.NewKey("orders"),
//			Handlers: orderHandlers,
//		},
//		Remote: func(ctx context.Context, in OrderInput) (any, error) {
//			return api.CreateOrder(ctx, in)
//		},
//		Build: func(in OrderInput) Order {
//			return Order{Status: "pending", Total: in.Total}
//		},
//	})
//	if err != nil {
//		return err
//	}
//	order, err := createOrder.Do(ctx, input)
//
// A create stamps the tentative entity with a temp id
// (querycache.NewTempID) and replaces it with the server entity on commit,
// deduplicated by id so a repeated response cannot duplicate the entity.
//
// # Concurrency
//
// Mutations on the same key are serialized through a per-key mutex registry
// by default, so one mutation's snapshot can never capture another's
// tentative state. Config.Unserialized opts out and accepts the overlap:
// snapshots interleave and the last rollback wins. Mutations on distinct
// keys never contend.
package optimistic
