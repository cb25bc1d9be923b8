package projection

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/codewandler/dcb-go/core/dcb"
)

// Snapshot serializes the safe state. With useOffload and a configured blob
// accessor, states whose compressed size exceeds the offload threshold are
// written to the accessor and only referenced from the envelope. A failed
// blob write fails the snapshot and leaves the actor untouched.
func (a *Actor) Snapshot(ctx context.Context, useOffload bool) (*SnapshotEnvelope, error) {
	a.mu.Lock()
	threshold := a.thresholdLocked(a.opts.now())
	if err := a.promoteLocked(ctx, threshold); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	safe := a.safeStateLocked(threshold)
	a.mu.Unlock()

	compressed, original, err := Serialize(a.projector, safe.Payload)
	if err != nil {
		return nil, err
	}

	now := a.opts.now()
	env := &SnapshotEnvelope{
		ProjectorName:       safe.ProjectorName,
		ProjectorVersion:    safe.ProjectorVersion,
		PayloadType:         PayloadTypeOf(safe.Payload),
		LastSortableID:      safe.LastSortableID,
		EventsProcessed:     safe.Version,
		OriginalSizeBytes:   original,
		CompressedSizeBytes: len(compressed),
		SafeWindowThreshold: threshold,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	blob := a.opts.blob
	if useOffload && blob != nil && len(compressed) > a.opts.SnapshotOffloadThresholdBytes {
		key, err := blob.Write(ctx, compressed, offloadKeyHint(safe.ProjectorName, compressed))
		if err != nil {
			return nil, dcb.NewError(dcb.KindStorage, "offload_snapshot", err)
		}
		env.Offloaded = &OffloadedState{
			OffloadKey:      key,
			StorageProvider: blob.ProviderName(),
			PayloadLength:   int64(len(compressed)),
		}
		a.log.Debug(
			"snapshot offloaded",
			slog.String("key", key),
			slog.String("provider", blob.ProviderName()),
			slog.Int("bytes", len(compressed)),
		)
	} else {
		env.InlineState = compressed
	}

	a.opts.metrics.SnapshotSize(safe.ProjectorName, len(compressed), env.IsOffloaded())
	return env, nil
}

// SetSnapshot restores the safe state from env. The envelope must come from
// the same projector version. Buffered events at or below the restored
// position are dropped; newer ones stay buffered.
func (a *Actor) SetSnapshot(ctx context.Context, env *SnapshotEnvelope) error {
	return a.setSnapshot(ctx, env, true)
}

// SetSnapshotIgnoringVersion is SetSnapshot without the projector version
// check, for payloads known to be compatible across versions.
func (a *Actor) SetSnapshotIgnoringVersion(ctx context.Context, env *SnapshotEnvelope) error {
	return a.setSnapshot(ctx, env, false)
}

func (a *Actor) setSnapshot(ctx context.Context, env *SnapshotEnvelope, checkVersion bool) error {
	if env == nil {
		return dcb.Errorf(dcb.KindValidation, "set_snapshot", "nil envelope")
	}
	if env.ProjectorName != a.projector.Name() {
		return dcb.Errorf(dcb.KindSerialization, "set_snapshot", "snapshot of %q cannot restore %q", env.ProjectorName, a.projector.Name())
	}
	if checkVersion && env.ProjectorVersion != a.projector.Version() {
		return dcb.Errorf(
			dcb.KindSerialization, "set_snapshot",
			"snapshot version %q does not match projector version %q", env.ProjectorVersion, a.projector.Version(),
		)
	}
	if env.LastSortableID != "" {
		if err := env.LastSortableID.Validate(); err != nil {
			return dcb.NewError(dcb.KindValidation, "set_snapshot", err)
		}
	}

	data, err := a.snapshotBytes(ctx, env)
	if err != nil {
		return err
	}
	payload, err := Deserialize(a.projector, data)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.safePayload = payload
	a.safeCursor = env.LastSortableID
	a.safeVersion = env.EventsProcessed
	a.folded = nil
	a.foldedFloor = a.safeCursor
	a.restored = a.safeCursor
	a.buffer = slices.DeleteFunc(a.buffer, func(ev dcb.Event) bool {
		if ev.SortableID.IsEarlierThanOrEqual(a.safeCursor) {
			delete(a.buffered, ev.SortableID)
			return true
		}
		return false
	})
	if a.safeCursor.IsLaterThan(a.unsafeLast) {
		a.unsafeLast = a.safeCursor
	}
	if a.phase == PhaseUninitialized {
		a.phase = PhaseCatchingUp
	}

	a.log.Info(
		"snapshot restored",
		slog.String("cursor", a.safeCursor.String()),
		slog.Int("version", a.safeVersion),
		slog.Bool("offloaded", env.IsOffloaded()),
		slog.Int("buffered", len(a.buffer)),
	)
	return nil
}

func (a *Actor) snapshotBytes(ctx context.Context, env *SnapshotEnvelope) ([]byte, error) {
	if !env.IsOffloaded() {
		if len(env.InlineState) == 0 {
			return nil, dcb.Errorf(dcb.KindSerialization, "set_snapshot", "envelope has no state")
		}
		return env.InlineState, nil
	}
	blob := a.opts.blob
	if blob == nil {
		return nil, dcb.Errorf(dcb.KindStorage, "set_snapshot", "snapshot offloaded to %q but no blob accessor configured", env.Offloaded.StorageProvider)
	}
	data, err := blob.Read(ctx, env.Offloaded.OffloadKey)
	if err != nil {
		return nil, dcb.NewError(dcb.KindStorage, "read_offloaded_snapshot", err)
	}
	return data, nil
}

// BuildSnapshotRecord promotes, snapshots with offloading, and checks the
// inline size limit.
func (a *Actor) BuildSnapshotRecord(ctx context.Context) (*SnapshotRecord, error) {
	env, err := a.Snapshot(ctx, true)
	if err != nil {
		return nil, err
	}
	if limit := a.opts.MaxSnapshotSizeBytes; limit > 0 && !env.IsOffloaded() && len(env.InlineState) > limit {
		return nil, dcb.Errorf(
			dcb.KindValidation, "build_snapshot_record",
			"inline snapshot of %d bytes exceeds the %d byte limit", len(env.InlineState), limit,
		)
	}
	rec := RecordFromEnvelope(env)
	return &rec, nil
}

// RestoreFrom loads the latest record for this projector. It reports false
// when there is nothing usable to restore: no record, or one written by
// another projector version.
func (a *Actor) RestoreFrom(ctx context.Context, store SnapshotStore) (bool, error) {
	rec, err := store.Load(ctx, a.projector.Name())
	if errors.Is(err, dcb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.ProjectorVersion != a.projector.Version() {
		a.log.Warn(
			"ignoring snapshot of other projector version",
			slog.String("snapshot_version", rec.ProjectorVersion),
			slog.String("projector_version", a.projector.Version()),
		)
		return false, nil
	}
	if err := a.SetSnapshot(ctx, rec.Envelope()); err != nil {
		return false, err
	}
	return true, nil
}
