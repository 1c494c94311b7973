package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/terrane-dev/terrane/pkg/property"
	"github.com/terrane-dev/terrane/pkg/provider"
	"github.com/terrane-dev/terrane/pkg/stores"
	"github.com/terrane-dev/terrane/pkg/telemetry"
)

// RetryPolicy bounds the retry loop for transient and throttled
// provider failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry; it doubles per
	// attempt up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy returns the retry policy used when none is
// configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Options configure a Reconciler.
type Options struct {
	// Provider performs the resource operations.
	Provider provider.Provider

	// Store persists snapshots and the operation journal.
	Store stores.SnapshotStore

	// ProviderName labels metrics and spans. Defaults to "provider".
	ProviderName string

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer

	// Retry bounds retries of transient and throttled failures. Zero
	// value means DefaultRetryPolicy.
	Retry RetryPolicy
}

// Reconciler drives single resources against one provider.
type Reconciler struct {
	prov    provider.Provider
	store   stores.SnapshotStore
	name    string
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	retry   RetryPolicy
}

// New creates a reconciler.
func New(opts Options) (*Reconciler, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if opts.ProviderName == "" {
		opts.ProviderName = "provider"
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}

	return &Reconciler{
		prov:    opts.Provider,
		store:   opts.Store,
		name:    opts.ProviderName,
		logger:  logger.NewComponentLogger("engine"),
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		retry:   opts.Retry,
	}, nil
}

// Plan decides what to do for one goal: Check the inputs, then Diff
// against the recorded snapshot. Validation failures stop the plan.
func (r *Reconciler) Plan(ctx context.Context, goal Goal) (*Decision, error) {
	snap, err := r.snapshot(ctx, goal.URN)
	if err != nil {
		return nil, err
	}

	var olds property.Map
	if snap != nil {
		olds = snap.Inputs
	}

	var checked *provider.CheckResponse
	err = r.operate(ctx, "check", goal.URN, func(ctx context.Context) error {
		var opErr error
		checked, opErr = r.prov.Check(ctx, provider.CheckRequest{
			URN:  goal.URN,
			Olds: olds,
			News: goal.Inputs,
		})
		return opErr
	})
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", goal.URN, err)
	}

	if len(checked.Failures) > 0 {
		r.metrics.RecordCheckFailures(r.name, len(checked.Failures))
		r.logger.WithURN(string(goal.URN)).
			WithField("failures", len(checked.Failures)).
			Warn("inputs failed validation")
		return &Decision{
			Action:   ActionNone,
			Goal:     goal,
			Snapshot: snap,
			Failures: checked.Failures,
		}, nil
	}

	inputs := checked.Inputs
	if snap == nil || snap.ID == "" {
		return &Decision{
			Action:   ActionCreate,
			Goal:     goal,
			Snapshot: snap,
			Inputs:   inputs,
		}, nil
	}

	var diff *provider.DiffResult
	err = r.operate(ctx, "diff", goal.URN, func(ctx context.Context) error {
		var opErr error
		diff, opErr = r.prov.Diff(ctx, provider.DiffRequest{
			ID:   snap.ID,
			URN:  goal.URN,
			Olds: snap.Inputs,
			News: inputs,
		})
		return opErr
	})
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", goal.URN, err)
	}
	if err := diff.Validate(inputs); err != nil {
		return nil, fmt.Errorf("diff %s: %w", goal.URN, err)
	}

	action := ActionNone
	switch diff.Changes {
	case provider.DiffNone:
		action = ActionNone
	case provider.DiffSome:
		if diff.Replacement() {
			action = ActionReplace
		} else {
			action = ActionUpdate
		}
	case provider.DiffUnknown:
		// The provider cannot tell; assume an in-place change rather
		// than skipping or destroying anything.
		action = ActionUpdate
	}

	return &Decision{
		Action:   action,
		Goal:     goal,
		Snapshot: snap,
		Inputs:   inputs,
		Diff:     diff,
	}, nil
}

// Apply executes a decision and returns the resulting snapshot, nil
// when the resource was deleted or the action was none on a new
// resource.
func (r *Reconciler) Apply(ctx context.Context, decision *Decision) (*stores.Snapshot, error) {
	if len(decision.Failures) > 0 {
		return nil, &CheckFailedError{URN: decision.Goal.URN, Failures: decision.Failures}
	}

	switch decision.Action {
	case ActionNone:
		r.metrics.RecordReconcileAction(string(ActionNone), "ok")
		return decision.Snapshot, nil
	case ActionCreate:
		return r.create(ctx, decision)
	case ActionUpdate:
		return r.update(ctx, decision)
	case ActionReplace:
		return r.replace(ctx, decision)
	case ActionDelete:
		if decision.Snapshot == nil {
			return nil, nil
		}
		if err := r.Destroy(ctx, decision.Snapshot); err != nil {
			return decision.Snapshot, err
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown action %q", decision.Action)
	}
}

// create builds the resource and records its snapshot. An interrupted
// create leaves a stale snapshot so a later refresh reconciles
// whatever the provider may have built.
func (r *Reconciler) create(ctx context.Context, decision *Decision) (*stores.Snapshot, error) {
	goal := decision.Goal
	version := 0
	if decision.Snapshot != nil {
		version = decision.Snapshot.Version
	}

	var resp *provider.CreateResponse
	err := r.operate(ctx, "create", goal.URN, func(ctx context.Context) error {
		var opErr error
		resp, opErr = r.prov.Create(ctx, provider.CreateRequest{
			URN:        goal.URN,
			Properties: decision.Inputs,
		})
		return opErr
	})
	if err != nil {
		r.metrics.RecordReconcileAction(string(ActionCreate), "failed")
		if interrupted(err) {
			r.markStale(goal.URN, goal.Type, decision.Inputs, version)
		}
		return nil, fmt.Errorf("create %s: %w", goal.URN, err)
	}

	snap := &stores.Snapshot{
		URN:     goal.URN,
		ID:      resp.ID,
		Type:    goal.Type,
		Inputs:  decision.Inputs,
		Outputs: resp.Properties,
		Version: version,
	}
	if err := r.store.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot %s: %w", goal.URN, err)
	}

	r.metrics.RecordReconcileAction(string(ActionCreate), "ok")
	r.logger.WithURN(string(goal.URN)).WithField("id", string(resp.ID)).Info("resource created")
	return snap, nil
}

// update changes the resource in place and merges the new outputs into
// its snapshot.
func (r *Reconciler) update(ctx context.Context, decision *Decision) (*stores.Snapshot, error) {
	goal := decision.Goal
	snap := decision.Snapshot

	var resp *provider.UpdateResponse
	err := r.operate(ctx, "update", goal.URN, func(ctx context.Context) error {
		var opErr error
		resp, opErr = r.prov.Update(ctx, provider.UpdateRequest{
			ID:   snap.ID,
			URN:  goal.URN,
			Olds: snap.Inputs,
			News: decision.Inputs,
		})
		return opErr
	})
	if err != nil {
		r.metrics.RecordReconcileAction(string(ActionUpdate), "failed")
		return nil, fmt.Errorf("update %s: %w", goal.URN, err)
	}

	snap.Inputs = decision.Inputs
	snap.Outputs = resp.Properties
	snap.Stale = false
	if err := r.store.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot %s: %w", goal.URN, err)
	}

	r.metrics.RecordReconcileAction(string(ActionUpdate), "ok")
	r.logger.WithURN(string(goal.URN)).Info("resource updated")
	return snap, nil
}

// replace recreates the resource under a new ID in the order the diff
// demands. The old snapshot entry is rewritten only after the step that
// retires the old object.
func (r *Reconciler) replace(ctx context.Context, decision *Decision) (*stores.Snapshot, error) {
	goal := decision.Goal
	snap := decision.Snapshot
	oldID := snap.ID

	if decision.Diff != nil && decision.Diff.DeleteBeforeReplace {
		// Old and new cannot coexist: retire the old object first.
		err := r.operate(ctx, "delete", goal.URN, func(ctx context.Context) error {
			return r.prov.Delete(ctx, provider.DeleteRequest{ID: oldID, URN: goal.URN})
		})
		if err != nil {
			r.metrics.RecordReconcileAction(string(ActionReplace), "failed")
			if interrupted(err) {
				r.markStale(goal.URN, goal.Type, snap.Inputs, snap.Version)
			}
			return nil, fmt.Errorf("delete %s for replacement: %w", goal.URN, err)
		}

		// The old object is gone; record that before creating, so an
		// interruption here cannot orphan the retired ID.
		snap.ID = ""
		snap.Stale = true
		if err := r.store.Save(ctx, snap); err != nil {
			return nil, fmt.Errorf("save snapshot %s: %w", goal.URN, err)
		}
	}

	var resp *provider.CreateResponse
	err := r.operate(ctx, "create", goal.URN, func(ctx context.Context) error {
		var opErr error
		resp, opErr = r.prov.Create(ctx, provider.CreateRequest{
			URN:        goal.URN,
			Properties: decision.Inputs,
		})
		return opErr
	})
	if err != nil {
		r.metrics.RecordReconcileAction(string(ActionReplace), "failed")
		if interrupted(err) {
			r.markStale(goal.URN, goal.Type, decision.Inputs, snap.Version)
		}
		return nil, fmt.Errorf("create replacement %s: %w", goal.URN, err)
	}

	snap.ID = resp.ID
	snap.Inputs = decision.Inputs
	snap.Outputs = resp.Properties
	snap.Stale = false
	if err := r.store.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot %s: %w", goal.URN, err)
	}

	if decision.Diff == nil || !decision.Diff.DeleteBeforeReplace {
		// Create-then-delete order: the new object lives, now retire
		// the old one.
		err := r.operate(ctx, "delete", goal.URN, func(ctx context.Context) error {
			return r.prov.Delete(ctx, provider.DeleteRequest{ID: oldID, URN: goal.URN})
		})
		if err != nil {
			r.metrics.RecordReconcileAction(string(ActionReplace), "failed")
			return snap, fmt.Errorf("delete old object %s: %w", oldID, err)
		}
	}

	r.metrics.RecordReconcileAction(string(ActionReplace), "ok")
	r.logger.WithURN(string(goal.URN)).
		WithField("old_id", string(oldID)).
		WithField("new_id", string(snap.ID)).
		Info("resource replaced")
	return snap, nil
}

// Refresh reads live state and reconciles the snapshot. A gone
// resource drops its snapshot; a drifted one has the live values
// recorded.
func (r *Reconciler) Refresh(ctx context.Context, snap *stores.Snapshot) (*RefreshResult, error) {
	var resp *provider.ReadResponse
	err := r.operate(ctx, "read", snap.URN, func(ctx context.Context) error {
		var opErr error
		resp, opErr = r.prov.Read(ctx, provider.ReadRequest{
			ID:         snap.ID,
			URN:        snap.URN,
			Properties: snap.Inputs,
		})
		return opErr
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", snap.URN, err)
	}

	if resp.ID == "" {
		if err := r.store.Delete(ctx, snap.URN); err != nil {
			return nil, fmt.Errorf("drop snapshot %s: %w", snap.URN, err)
		}
		r.metrics.RecordDriftDetection("gone")
		r.logger.WithURN(string(snap.URN)).Warn("resource is gone")
		return &RefreshResult{Gone: true}, nil
	}

	drift := inputDrift(snap.Inputs, resp.Properties)

	snap.ID = resp.ID
	snap.Outputs = resp.Properties
	snap.Stale = false
	if err := r.store.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot %s: %w", snap.URN, err)
	}

	if drift == nil {
		r.metrics.RecordDriftDetection("in_sync")
	} else {
		r.metrics.RecordDriftDetection("drifted")
		r.logger.WithURN(string(snap.URN)).
			WithField("drifted", drift.Keys()).
			Warn("resource drifted")
	}
	return &RefreshResult{Drift: drift, Live: resp.Properties}, nil
}

// Destroy deletes the resource and drops its snapshot. The snapshot
// survives a failed delete so the teardown can be retried.
func (r *Reconciler) Destroy(ctx context.Context, snap *stores.Snapshot) error {
	err := r.operate(ctx, "delete", snap.URN, func(ctx context.Context) error {
		return r.prov.Delete(ctx, provider.DeleteRequest{ID: snap.ID, URN: snap.URN})
	})
	if err != nil {
		r.metrics.RecordReconcileAction(string(ActionDelete), "failed")
		if interrupted(err) {
			r.markStale(snap.URN, snap.Type, snap.Inputs, snap.Version)
		}
		return fmt.Errorf("delete %s: %w", snap.URN, err)
	}

	if err := r.store.Delete(ctx, snap.URN); err != nil {
		return fmt.Errorf("drop snapshot %s: %w", snap.URN, err)
	}
	r.metrics.RecordReconcileAction(string(ActionDelete), "ok")
	r.logger.WithURN(string(snap.URN)).Info("resource deleted")
	return nil
}

// snapshot loads the recorded state for urn, nil when none exists.
func (r *Reconciler) snapshot(ctx context.Context, urn provider.URN) (*stores.Snapshot, error) {
	snap, err := r.store.Get(ctx, urn)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", urn, err)
	}
	return snap, nil
}

// operate runs one provider call with journaling, metrics and the
// retry loop for transient and throttled failures.
func (r *Reconciler) operate(ctx context.Context, method string, urn provider.URN, fn func(context.Context) error) error {
	delay := r.retry.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		opCtx := ctx
		var span trace.Span
		if r.tracer != nil {
			opCtx, span = r.tracer.StartProviderSpan(ctx, r.name, method)
		}

		start := time.Now()
		err = fn(opCtx)
		duration := time.Since(start)

		if span != nil {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}

		rec := &stores.OpRecord{URN: urn, Method: method, Outcome: stores.OutcomeOK, Duration: duration}
		if err != nil {
			rec.Outcome = stores.OutcomeFailed
			rec.Error = err.Error()
		}
		if journalErr := r.store.AppendOp(ctx, rec); journalErr != nil {
			r.logger.WithError(journalErr).Warn("failed to journal operation")
		}

		r.metrics.RecordProviderCall(r.name, method, duration)
		if err == nil {
			return nil
		}
		class := provider.ClassOf(err)
		r.metrics.RecordProviderError(r.name, method, string(class))

		if !provider.IsRetryable(err) || attempt >= r.retry.MaxAttempts {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		r.metrics.RecordRetry(method, string(class))
		r.logger.WithURN(string(urn)).
			WithMethod(method).
			WithField("attempt", attempt).
			WithField("class", string(class)).
			WithError(err).
			Warn("retrying after classified failure")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.retry.MaxDelay {
			delay = r.retry.MaxDelay
		}
	}
}

// markStale records that the backing state of urn is indeterminate.
// Best effort: called on the way out of an already failed operation.
func (r *Reconciler) markStale(urn provider.URN, typ string, inputs property.Map, version int) {
	snap := &stores.Snapshot{
		URN:     urn,
		Type:    typ,
		Inputs:  inputs,
		Stale:   true,
		Version: version,
	}
	if err := r.store.Save(context.Background(), snap); err != nil {
		r.logger.WithURN(string(urn)).WithError(err).Warn("failed to mark snapshot stale")
	}
}

// interrupted reports whether err is a context cancellation, meaning
// the operation may have partially happened on the provider side.
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// inputDrift compares the recorded inputs against the live bag,
// considering only the input keys; provider-computed outputs are not
// drift.
func inputDrift(inputs, live property.Map) *property.ObjectDiff {
	liveInputs := property.Map{}
	for _, key := range inputs.Keys() {
		if v, ok := live[key]; ok {
			liveInputs[key] = v
		}
	}
	return property.Diff(inputs, liveInputs)
}
