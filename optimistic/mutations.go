package optimistic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-optimistic-cache/apierror"
	"github.com/goliatone/go-optimistic-cache/normalize"
	"github.com/goliatone/go-optimistic-cache/notify"
	"github.com/goliatone/go-optimistic-cache/querycache"
)

// Handlers supplies id access for entities of type T. The executor needs it
// to address entities inside a partition: dedupe on commit, filter on
// delete, temp-id replacement on create.
type Handlers[T any] struct {
	// ID extracts an entity's identifier.
	ID func(entity T) querycache.ID

	// SetID returns a copy of the entity with its identifier replaced.
	// Required only by create mutations that build a tentative entity,
	// which must stamp it with a temp id.
	SetID func(entity T, id querycache.ID) T
}

// Messages overrides the wording sent to the notification sink. Zero values
// fall back to kind-specific defaults on success and to the parsed error's
// user-facing message on failure.
type Messages struct {
	Success string
	Error   string
}

func (m Messages) successFor(kind Kind) string {
	if m.Success != "" {
		return m.Success
	}
	switch kind {
	case KindCreate:
		return "created successfully"
	case KindUpdate:
		return "updated successfully"
	case KindDelete, KindBatchDelete:
		return "deleted successfully"
	default:
		return "saved successfully"
	}
}

func (m Messages) errorFor(err *apierror.Error) string {
	if m.Error != "" {
		return m.Error
	}
	return err.UserMessage()
}

// Config carries the collaborators every mutation kind shares. Kind-specific
// configs embed it.
type Config[T any] struct {
	// Store is the cache the mutation reads and writes through.
	Store querycache.Store

	// Key names the partition holding the []T this mutation targets.
	Key querycache.Key

	// Handlers supplies id access for T.
	Handlers Handlers[T]

	// Related lists extra entity types to refresh on commit, on top of
	// what the invalidation graph derives from Key.Type.
	Related []querycache.EntityType

	// Invalidator receives the commit signal. Nil disables post-commit
	// invalidation.
	Invalidator Invalidator

	// Notifier is the user-feedback sink. Nil means no notifications.
	Notifier notify.Notifier

	// Messages overrides the default notification wording.
	Messages Messages

	// OnTransition observes every state change. Mainly for tests and
	// instrumentation; called synchronously from Do.
	OnTransition func(State)

	// Locks overrides the package-wide per-key serializer. Mutations built
	// with the same Locks value and the same Key run one at a time.
	Locks *KeyLocks

	// Unserialized opts this mutation out of per-key serialization.
	// Overlapping mutations on one key capture interleaved snapshots and
	// the last rollback wins, erasing earlier optimistic writes. Leave it
	// off unless overlap is acceptable.
	Unserialized bool

	// Logger receives state traces and swallowed failures. Nil means
	// slog.Default().
	Logger *slog.Logger
}

func (c Config[T]) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Store, validation.Required),
		validation.Field(&c.Key, validation.By(validKey)),
		validation.Field(&c.Handlers, validation.By(func(value any) error {
			h, _ := value.(Handlers[T])
			if h.ID == nil {
				return errors.New("needs an ID accessor")
			}
			return nil
		})),
	)
}

// notNilFunc rejects nil function fields. validation.Required cannot: a nil
// func boxed in an interface is not "empty" to its reflection check.
func notNilFunc(value any) error {
	v := reflect.ValueOf(value)
	if !v.IsValid() || (v.Kind() == reflect.Func && v.IsNil()) {
		return errors.New("is required")
	}
	return nil
}

// validKey rejects keys that do not name an entity type; Required passes
// zero structs through.
func validKey(value any) error {
	k, ok := value.(querycache.Key)
	if !ok || k.Type == "" {
		return errors.New("must name an entity type")
	}
	return nil
}

// CreateConfig configures an optimistic create.
type CreateConfig[TIn any, T any] struct {
	Config[T]

	// Remote performs the server call. Its response may be the created
	// entity in any of the backend's envelope shapes, or empty.
	Remote func(ctx context.Context, input TIn) (any, error)

	// Build constructs the tentative entity shown while the call is in
	// flight. Nil skips the optimistic step; the entity then appears only
	// after the server responds.
	Build func(input TIn) T
}

// UpdateConfig configures an optimistic update.
type UpdateConfig[TIn any, T any] struct {
	Config[T]

	// Remote performs the server call. Its response may be the updated
	// entity in any of the backend's envelope shapes, or empty.
	Remote func(ctx context.Context, input TIn) (any, error)

	// Apply patches the currently cached entity with the pending input.
	// Nil skips the optimistic step.
	Apply func(input TIn, current T) T

	// TargetID extracts the id of the entity the input addresses.
	TargetID func(input TIn) querycache.ID
}

// DeleteConfig configures an optimistic delete. The optimistic transform is
// fixed: the target entity is filtered out of the partition immediately.
type DeleteConfig[TIn any, T any] struct {
	Config[T]

	// Remote performs the server call. The response body is ignored.
	Remote func(ctx context.Context, input TIn) (any, error)

	// TargetID extracts the id of the entity the input addresses.
	TargetID func(input TIn) querycache.ID
}

// BatchDeleteConfig configures an optimistic batch delete. One snapshot
// covers the whole batch: a failed call restores every removed entity at
// once, never a partial subset.
type BatchDeleteConfig[T any] struct {
	Config[T]

	// Remote performs the server call for the full id set. The response
	// body is ignored.
	Remote func(ctx context.Context, ids []querycache.ID) (any, error)
}

// CreateMutation optimistically appends a tentative entity under a temp id,
// then swaps in the server entity on commit.
type CreateMutation[TIn any, T any] struct {
	core   *core[T]
	remote func(ctx context.Context, input TIn) (any, error)
	build  func(input TIn) T
}

// NewCreateMutation validates cfg and builds a reusable create mutation.
// The returned value is safe for concurrent Do calls.
func NewCreateMutation[TIn any, T any](cfg CreateConfig[TIn, T]) (*CreateMutation[TIn, T], error) {
	if err := cfg.Config.validate(); err != nil {
		return nil, fmt.Errorf("optimistic: create config: %w", err)
	}
	if err := validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Remote, validation.By(notNilFunc)),
	); err != nil {
		return nil, fmt.Errorf("optimistic: create config: %w", err)
	}
	if cfg.Build != nil && cfg.Handlers.SetID == nil {
		return nil, errors.New("optimistic: create config: Handlers.SetID is required when Build is set")
	}
	return &CreateMutation[TIn, T]{
		core:   newCore(KindCreate, cfg.Config),
		remote: cfg.Remote,
		build:  cfg.Build,
	}, nil
}

// Do runs one create. On commit it returns the server entity when the
// response carried one, otherwise the tentative entity. On rollback it
// returns the zero T and the classified error.
func (m *CreateMutation[TIn, T]) Do(ctx context.Context, input TIn) (T, error) {
	var (
		result T
		tempID querycache.ID
	)

	var st step[T]
	if m.build != nil {
		tentative := m.core.handlers.SetID(m.build(input), querycache.NewTempID())
		// Read the id back out of the entity: an int64 id field keeps only
		// the temp id's numeric shadow, and the merge below must match
		// whatever form the entity actually carries.
		tempID = m.core.handlers.ID(tentative)
		result = tentative
		st.apply = func(items []T) []T {
			out := make([]T, 0, len(items)+1)
			out = append(out, items...)
			return append(out, tentative)
		}
	}
	st.call = func(ctx context.Context) (any, error) {
		return m.remote(ctx, input)
	}
	st.merge = func(items []T, resp any) ([]T, querycache.ID) {
		entity, ok := normalize.Item[T](resp)
		if !ok {
			// The server acknowledged without an entity body. The
			// tentative entity stays put; the post-commit refetch
			// replaces it with server state.
			return items, tempID
		}
		result = entity
		if !tempID.IsZero() {
			items = removeByIDs(items, []querycache.ID{tempID}, m.core.handlers.ID)
		}
		return upsertByID(items, entity, m.core.handlers.ID), m.core.handlers.ID(entity)
	}

	if err := m.core.run(ctx, st); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// UpdateMutation optimistically patches the matching cached entity, then
// replaces it with the server entity on commit.
type UpdateMutation[TIn any, T any] struct {
	core     *core[T]
	remote   func(ctx context.Context, input TIn) (any, error)
	apply    func(input TIn, current T) T
	targetID func(input TIn) querycache.ID
}

// NewUpdateMutation validates cfg and builds a reusable update mutation.
func NewUpdateMutation[TIn any, T any](cfg UpdateConfig[TIn, T]) (*UpdateMutation[TIn, T], error) {
	if err := cfg.Config.validate(); err != nil {
		return nil, fmt.Errorf("optimistic: update config: %w", err)
	}
	if err := validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Remote, validation.By(notNilFunc)),
		validation.Field(&cfg.TargetID, validation.By(notNilFunc)),
	); err != nil {
		return nil, fmt.Errorf("optimistic: update config: %w", err)
	}
	return &UpdateMutation[TIn, T]{
		core:     newCore(KindUpdate, cfg.Config),
		remote:   cfg.Remote,
		apply:    cfg.Apply,
		targetID: cfg.TargetID,
	}, nil
}

// Do runs one update. On commit it returns the server entity when the
// response carried one, otherwise the patched cached entity.
func (m *UpdateMutation[TIn, T]) Do(ctx context.Context, input TIn) (T, error) {
	var result T
	target := m.targetID(input)

	var st step[T]
	if m.apply != nil {
		st.apply = func(items []T) []T {
			out := make([]T, len(items))
			copy(out, items)
			for i, item := range out {
				if m.core.handlers.ID(item).Equal(target) {
					out[i] = m.apply(input, item)
				}
			}
			return out
		}
	}
	st.call = func(ctx context.Context) (any, error) {
		return m.remote(ctx, input)
	}
	st.merge = func(items []T, resp any) ([]T, querycache.ID) {
		entity, ok := normalize.Item[T](resp)
		if !ok {
			// No entity body; the optimistic patch stands until the
			// post-commit refetch reconciles.
			for _, item := range items {
				if m.core.handlers.ID(item).Equal(target) {
					result = item
					break
				}
			}
			return items, target
		}
		result = entity
		affected := m.core.handlers.ID(entity)
		if affected.IsZero() {
			affected = target
		}
		return upsertByID(items, entity, m.core.handlers.ID), affected
	}

	if err := m.core.run(ctx, st); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// DeleteMutation optimistically filters the target entity out of the
// partition; rollback restores it.
type DeleteMutation[TIn any, T any] struct {
	core     *core[T]
	remote   func(ctx context.Context, input TIn) (any, error)
	targetID func(input TIn) querycache.ID
}

// NewDeleteMutation validates cfg and builds a reusable delete mutation.
func NewDeleteMutation[TIn any, T any](cfg DeleteConfig[TIn, T]) (*DeleteMutation[TIn, T], error) {
	if err := cfg.Config.validate(); err != nil {
		return nil, fmt.Errorf("optimistic: delete config: %w", err)
	}
	if err := validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Remote, validation.By(notNilFunc)),
		validation.Field(&cfg.TargetID, validation.By(notNilFunc)),
	); err != nil {
		return nil, fmt.Errorf("optimistic: delete config: %w", err)
	}
	return &DeleteMutation[TIn, T]{
		core:     newCore(KindDelete, cfg.Config),
		remote:   cfg.Remote,
		targetID: cfg.TargetID,
	}, nil
}

// Do runs one delete. The error is nil on commit, the classified server
// error on rollback.
func (m *DeleteMutation[TIn, T]) Do(ctx context.Context, input TIn) error {
	target := m.targetID(input)
	filter := func(items []T) []T {
		return removeByIDs(items, []querycache.ID{target}, m.core.handlers.ID)
	}

	return m.core.run(ctx, step[T]{
		apply: filter,
		call: func(ctx context.Context) (any, error) {
			return m.remote(ctx, input)
		},
		merge: func(items []T, resp any) ([]T, querycache.ID) {
			return filter(items), target
		},
	})
}

// BatchDeleteMutation optimistically filters a set of ids out of the
// partition under a single snapshot, so a failed batch restores every
// entity at once.
type BatchDeleteMutation[T any] struct {
	core   *core[T]
	remote func(ctx context.Context, ids []querycache.ID) (any, error)
}

// NewBatchDeleteMutation validates cfg and builds a reusable batch delete.
func NewBatchDeleteMutation[T any](cfg BatchDeleteConfig[T]) (*BatchDeleteMutation[T], error) {
	if err := cfg.Config.validate(); err != nil {
		return nil, fmt.Errorf("optimistic: batch delete config: %w", err)
	}
	if err := validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Remote, validation.By(notNilFunc)),
	); err != nil {
		return nil, fmt.Errorf("optimistic: batch delete config: %w", err)
	}
	return &BatchDeleteMutation[T]{
		core:   newCore(KindBatchDelete, cfg.Config),
		remote: cfg.Remote,
	}, nil
}

// Do runs one batch delete over ids.
func (m *BatchDeleteMutation[T]) Do(ctx context.Context, ids []querycache.ID) error {
	filter := func(items []T) []T {
		return removeByIDs(items, ids, m.core.handlers.ID)
	}

	return m.core.run(ctx, step[T]{
		apply: filter,
		call: func(ctx context.Context) (any, error) {
			return m.remote(ctx, ids)
		},
		merge: func(items []T, resp any) ([]T, querycache.ID) {
			return filter(items), querycache.ID{}
		},
	})
}
