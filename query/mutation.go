package query

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OptimisticUpdate predicts the effect of a mutation on one target query.
// Update receives the query's current value (nil before first resolution) and
// returns the predicted post-mutation value.
type OptimisticUpdate struct {
	Function string
	Args     any
	Update   func(current any) any
}

// Mutation is a mutation call site, optionally carrying optimistic updates
// applied to target queries before the backend round-trip.
type Mutation struct {
	e          *Engine
	id         string
	function   string
	optimistic []OptimisticUpdate
	opts       Options
}

// Mutation creates a mutation call site for function.
func (e *Engine) Mutation(function string, opts Options, optimistic ...OptimisticUpdate) *Mutation {
	return &Mutation{
		e:          e,
		id:         uuid.NewString(),
		function:   function,
		optimistic: optimistic,
		opts:       opts,
	}
}

type appliedPatch struct {
	key string
	id  uint64
}

// Call executes the mutation. Optimistic updates are applied to their target
// entries first, then the backend call runs; on rejection every patch this
// call applied is rolled back, in reverse application order, before the error
// returns. On success patches are left in place to be superseded by the next
// authoritative update on their entries.
//
// All target keys are serialized before any patch is applied: a
// non-serializable target is a programmer error and must not leave a partial
// set of patches behind.
func (m *Mutation) Call(ctx context.Context, args any) (any, error) {
	keys := make([]string, len(m.optimistic))
	for i, ou := range m.optimistic {
		key, err := m.e.serializer.SerializeKey(ou.Function, ou.Args)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}

	var applied []appliedPatch
	for i, ou := range m.optimistic {
		if id := m.e.reg.ApplyOptimistic(keys[i], ou.Update); id != 0 {
			applied = append(applied, appliedPatch{key: keys[i], id: id})
			m.verbose("optimistic patch applied",
				zap.String("target", ou.Function),
				zap.Uint64("patch", id))
		}
	}

	ctx, err := m.e.withToken(ctx, m.opts.Public)
	if err != nil {
		m.rollback(applied)
		return nil, &MutationError{Function: m.function, Err: err}
	}

	value, err := m.e.client.Mutate(ctx, m.function, args)
	if err != nil {
		m.rollback(applied)
		m.verbose("mutation rejected", zap.Error(err))
		return nil, &MutationError{Function: m.function, Err: err}
	}
	return value, nil
}

func (m *Mutation) rollback(applied []appliedPatch) {
	for i := len(applied) - 1; i >= 0; i-- {
		m.e.reg.Rollback(applied[i].key, applied[i].id)
	}
}

func (m *Mutation) verbose(msg string, fields ...zap.Field) {
	if !m.opts.Verbose {
		return
	}
	base := []zap.Field{
		zap.String("call_site", m.id),
		zap.String("function", m.function),
	}
	m.e.log.Debug(msg, append(base, fields...)...)
}
