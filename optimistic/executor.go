package optimistic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goliatone/go-optimistic-cache/apierror"
	"github.com/goliatone/go-optimistic-cache/notify"
	"github.com/goliatone/go-optimistic-cache/querycache"
)

// Invalidator receives the commit signal and refreshes everything the
// mutated entity type transitively affects. Implemented by
// invalidation.Scheduler; op is the mutation kind as a string so
// implementations stay decoupled from this package.
type Invalidator interface {
	SmartInvalidate(ctx context.Context, op string, entityType querycache.EntityType, id querycache.ID, extra ...querycache.EntityType) error
}

// core is the kind-independent half of a mutation: the collaborators plus
// the state-machine driver. The four public mutation types wrap it with
// their kind-specific transforms.
type core[T any] struct {
	kind         Kind
	store        querycache.Store
	key          querycache.Key
	handlers     Handlers[T]
	related      []querycache.EntityType
	invalidator  Invalidator
	notifier     notify.Notifier
	messages     Messages
	onTransition func(State)
	locks        *KeyLocks
	unserialized bool
	logger       *slog.Logger
}

func newCore[T any](kind Kind, cfg Config[T]) *core[T] {
	c := &core[T]{
		kind:         kind,
		store:        cfg.Store,
		key:          cfg.Key,
		handlers:     cfg.Handlers,
		related:      cfg.Related,
		invalidator:  cfg.Invalidator,
		notifier:     cfg.Notifier,
		messages:     cfg.Messages,
		onTransition: cfg.OnTransition,
		locks:        cfg.Locks,
		unserialized: cfg.Unserialized,
		logger:       cfg.Logger,
	}
	if c.notifier == nil {
		c.notifier = notify.Nop()
	}
	if c.locks == nil {
		c.locks = defaultLocks
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// step is one mutation run's kind-specific behavior. apply is the
// optimistic transform (nil skips the OptimisticApplied state), call is the
// remote call, merge folds the server response into the partition on
// commit and names the affected id for invalidation.
type step[T any] struct {
	apply func(items []T) []T
	call  func(ctx context.Context) (any, error)
	merge func(items []T, resp any) ([]T, querycache.ID)
}

// run drives one mutation through the state machine: cancel in-flight
// reads, snapshot, optimistic apply, remote call, then commit or rollback.
// The returned error is the classified remote failure, nil on commit. A
// snapshot capture failure (partition type mismatch) aborts before anything
// is applied and is returned unclassified.
func (c *core[T]) run(ctx context.Context, st step[T]) error {
	if !c.unserialized {
		unlock := c.locks.Lock(c.key)
		defer unlock()
	}

	c.transition(ctx, StateCancelling)
	c.store.CancelInFlight(ctx, c.key)

	var snap *Snapshot
	if st.apply != nil {
		var err error
		snap, err = Capture[T](ctx, c.store, c.key)
		if err != nil {
			return fmt.Errorf("%s %s: %w", c.kind, c.key, err)
		}

		c.transition(ctx, StateOptimisticApplied)
		querycache.UpdatePartition(ctx, c.store, c.key, st.apply)
	}

	c.transition(ctx, StateInFlight)
	resp, err := st.call(ctx)
	if err != nil {
		return c.rollback(ctx, snap, err)
	}

	c.commit(ctx, snap, st, resp)
	return nil
}

func (c *core[T]) commit(ctx context.Context, snap *Snapshot, st step[T], resp any) {
	if snap != nil {
		snap.Discard()
	}

	var affected querycache.ID
	if st.merge != nil {
		querycache.UpdatePartition(ctx, c.store, c.key, func(items []T) []T {
			out, id := st.merge(items, resp)
			affected = id
			return out
		})
	}

	c.transition(ctx, StateCommitted)

	if c.invalidator != nil {
		if err := c.invalidator.SmartInvalidate(ctx, string(c.kind), c.key.Type, affected, c.related...); err != nil {
			// Post-commit refresh trouble never un-commits the mutation.
			c.logger.WarnContext(ctx, "post-commit invalidation failed",
				"kind", string(c.kind),
				"key", c.key.String(),
				"error", err,
			)
		}
	}

	c.notifySuccess(ctx, c.messages.successFor(c.kind))
}

func (c *core[T]) rollback(ctx context.Context, snap *Snapshot, cause error) error {
	if snap != nil {
		if err := snap.Restore(ctx, c.store); err != nil {
			c.logger.ErrorContext(ctx, "rollback restore failed",
				"kind", string(c.kind),
				"key", c.key.String(),
				"error", err,
			)
		}
	}

	c.transition(ctx, StateRolledBack)

	parsed := apierror.Parse(cause)
	c.notifyError(ctx, c.messages.errorFor(parsed), parsed.Fields)
	return parsed
}

func (c *core[T]) transition(ctx context.Context, s State) {
	if c.onTransition != nil {
		c.onTransition(s)
	}
	c.logger.DebugContext(ctx, "mutation state",
		"kind", string(c.kind),
		"key", c.key.String(),
		"state", s.String(),
	)
}

// notifySuccess and notifyError shield the state machine from the sink: a
// panicking notifier is logged and swallowed, never changing the outcome.
func (c *core[T]) notifySuccess(ctx context.Context, message string) {
	defer c.recoverNotify(ctx)
	c.notifier.Success(ctx, message)
}

func (c *core[T]) notifyError(ctx context.Context, message string, fields map[string][]string) {
	defer c.recoverNotify(ctx)
	c.notifier.Error(ctx, message, fields)
}

func (c *core[T]) recoverNotify(ctx context.Context) {
	if r := recover(); r != nil {
		c.logger.ErrorContext(ctx, "notifier panicked",
			"kind", string(c.kind),
			"key", c.key.String(),
			"panic", fmt.Sprint(r),
		)
	}
}

// upsertByID replaces the entity sharing id with entity, or appends it when
// no match exists. The input slice is never mutated, so readers holding the
// old partition are unaffected. Applying the same entity twice is a no-op
// replacement, which is what makes commits idempotent.
func upsertByID[T any](items []T, entity T, id func(T) querycache.ID) []T {
	target := id(entity)
	out := make([]T, 0, len(items)+1)

	replaced := false
	for _, item := range items {
		if !replaced && id(item).Equal(target) {
			out = append(out, entity)
			replaced = true
			continue
		}
		out = append(out, item)
	}
	if !replaced {
		out = append(out, entity)
	}
	return out
}

// removeByIDs filters out every entity whose id is in ids, copy-on-write.
func removeByIDs[T any](items []T, ids []querycache.ID, id func(T) querycache.ID) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		itemID := id(item)
		matched := false
		for _, rm := range ids {
			if itemID.Equal(rm) {
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, item)
		}
	}
	return out
}
