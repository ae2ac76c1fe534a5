package player

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Engine is the playback engine control surface the reconciler drives.
// Property reads report ok=false when the engine cannot answer (reply
// timeout or dead process); the reconciler treats that as "assume
// unchanged" rather than as a fatal error.
type Engine interface {
	Start() error
	Running() bool
	Load(url string) error
	Stop() error
	SetPause(paused bool) error
	SetVolume(vol int) error
	GetProperty(name string) (any, bool)
}

// Store is the shared state/command store the core coordinates through.
type Store interface {
	DrainCommands(ctx context.Context) ([]string, error)
	DesiredState(ctx context.Context) (DesiredState, error)
	SetDesiredState(ctx context.Context, state DesiredState) error
	Volume(ctx context.Context) (int, error)
	SetVolume(ctx context.Context, vol int) error
	SetCurrentTrack(ctx context.Context, t *Track) error
	ClearCurrentTrack(ctx context.Context) error
	WriteStatus(ctx context.Context, fields map[string]string) error
}

// Catalog supplies the next track to play. A (nil, nil) return means
// none is available.
type Catalog interface {
	NextTrack(ctx context.Context) (*Track, error)
}

// Options configure the reconciler.
type Options struct {
	// Tick is the control-loop cadence. Defaults to one second.
	Tick time.Duration

	// DefaultVolume is used until a persisted volume is known.
	DefaultVolume int

	// OnStatus, when set, receives every published snapshot (used for
	// the realtime push transport).
	OnStatus func(Status)

	// OnTrackStart, when set, is called after a track was handed to the
	// engine (used for the play-history ledger).
	OnTrackStart func(Track)
}

// Reconciler runs the control loop: it collapses pending commands,
// compares desired vs. observed playback state and issues at most one
// corrective action per tick, then publishes a status snapshot.
//
// All mutation happens on the single loop goroutine; the reconciler is
// not safe for concurrent use.
type Reconciler struct {
	engine  Engine
	store   Store
	catalog Catalog
	opts    Options

	desired DesiredState
	current *Track
	volume  int

	// last observed engine flags, used only to render a degraded
	// snapshot when a live read fails. Reconciliation decisions are
	// always made from live reads.
	lastIdle   bool
	lastPaused bool
}

// NewReconciler creates a reconciler. Call Init before Run to restore
// persisted intent.
func NewReconciler(engine Engine, store Store, catalog Catalog, opts Options) *Reconciler {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	return &Reconciler{
		engine:   engine,
		store:    store,
		catalog:  catalog,
		opts:     opts,
		desired:  DesiredStopped,
		volume:   opts.DefaultVolume,
		lastIdle: true,
	}
}

// Init restores the persisted desired state and volume so a restart
// resumes the prior intent.
func (r *Reconciler) Init(ctx context.Context) {
	if state, err := r.store.DesiredState(ctx); err != nil {
		log.Warn().Err(err).Msg("Could not read persisted desired state, assuming stopped")
	} else {
		r.desired = state
	}

	if vol, err := r.store.Volume(ctx); err != nil {
		log.Debug().Err(err).Int("volume", r.volume).Msg("No persisted volume, using default")
	} else {
		r.volume = ClampVolume(vol)
	}

	log.Info().
		Str("desired_state", string(r.desired)).
		Int("volume", r.volume).
		Msg("Restored player intent")
}

// Volume returns the last applied volume (restored or set via commands).
func (r *Reconciler) Volume() int {
	return r.volume
}

// Run executes ticks at the configured cadence until the context is
// cancelled. Cancellation interrupts the inter-tick wait immediately.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Tick)
	defer ticker.Stop()

	for {
		r.Tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one control-loop iteration: collapse commands, apply the
// plan, reconcile desired vs. actual, publish status. A failing tick
// degrades the snapshot but never crashes the loop.
func (r *Reconciler) Tick(ctx context.Context) {
	var tickErr string

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("Tick panicked")
			r.publish(ctx, "internal error")
		}
	}()

	if !r.engine.Running() {
		log.Warn().Msg("Engine not running, restarting")
		if err := r.engine.Start(); err != nil {
			log.Error().Err(err).Msg("Engine restart failed")
			r.publish(ctx, "engine unavailable: "+err.Error())
			return
		}
		// restore the engine-side volume lost with the old process
		if err := r.engine.SetVolume(r.volume); err != nil {
			log.Warn().Err(err).Msg("Could not restore volume after restart")
		}
	}

	// 1. drain and collapse the command inbox, then apply the plan
	raw, err := r.store.DrainCommands(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Draining command inbox failed")
		tickErr = "command inbox unavailable"
	}
	r.applyPlan(ctx, Collapse(raw))

	// 2. observe the engine; both flags must come from live reads
	idle, okIdle := r.boolProp("idle-active")
	paused, okPaused := r.boolProp("pause")

	if !okIdle || !okPaused {
		// assume unchanged: no corrective action on stale knowledge
		log.Warn().Msg("Engine property read failed, skipping reconciliation")
		r.publish(ctx, "engine property read failed")
		return
	}
	r.lastIdle, r.lastPaused = idle, paused

	// 3. reconcile: at most one corrective action
	if err := r.reconcile(ctx, idle, paused); err != nil {
		log.Error().Err(err).Msg("Reconciliation failed")
		tickErr = err.Error()
	}

	// 4. publish status last so consumers never observe a snapshot
	// predating this tick's commands
	r.publish(ctx, tickErr)
}

// applyPlan executes the collapsed decision: skip first, then desired
// state, then volume.
func (r *Reconciler) applyPlan(ctx context.Context, plan ActionPlan) {
	if plan.Skip {
		if err := r.engine.Stop(); err != nil {
			log.Error().Err(err).Msg("Skip: engine stop failed")
		}
		r.clearCurrent(ctx)
	}

	if plan.State != nil && *plan.State != r.desired {
		r.setDesired(ctx, *plan.State)
	}

	switch {
	case plan.VolumeSet != nil:
		r.applyVolume(ctx, *plan.VolumeSet)
	case plan.VolumeDelta != 0:
		// relative to the volume read at apply-time, not enqueue-time
		base := r.volume
		if v, ok := r.floatProp("volume"); ok {
			base = int(v + 0.5)
		}
		r.applyVolume(ctx, ClampVolume(base+plan.VolumeDelta))
	}
}

func (r *Reconciler) applyVolume(ctx context.Context, vol int) {
	if err := r.engine.SetVolume(vol); err != nil {
		log.Error().Err(err).Int("volume", vol).Msg("Setting engine volume failed")
		return
	}
	r.volume = vol
	if err := r.store.SetVolume(ctx, vol); err != nil {
		log.Warn().Err(err).Msg("Persisting volume failed")
	}
}

func (r *Reconciler) reconcile(ctx context.Context, idle, paused bool) error {
	switch r.desired {
	case DesiredPlaying:
		if idle {
			return r.advance(ctx)
		}
		if paused {
			return r.engine.SetPause(false)
		}

	case DesiredPaused:
		if !idle && !paused {
			return r.engine.SetPause(true)
		}

	case DesiredStopped:
		if !idle {
			if err := r.engine.Stop(); err != nil {
				return err
			}
			r.clearCurrent(ctx)
		}
	}
	return nil
}

// advance fetches and loads the next track. An empty catalog demotes the
// desired state to stopped so the loop does not hammer an empty queue.
func (r *Reconciler) advance(ctx context.Context) error {
	track, err := r.catalog.NextTrack(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Next-track lookup failed")
		track = nil
	}

	if track == nil || track.StreamURL == "" {
		log.Info().Msg("No next track available, demoting desired state to stopped")
		r.setDesired(ctx, DesiredStopped)
		if err != nil {
			return err
		}
		return nil
	}

	if err := r.engine.Load(track.StreamURL); err != nil {
		return err
	}
	if err := r.engine.SetPause(false); err != nil {
		return err
	}

	r.current = track
	if err := r.store.SetCurrentTrack(ctx, track); err != nil {
		log.Warn().Err(err).Msg("Persisting current track failed")
	}
	log.Info().
		Int64("id", track.ID).
		Str("title", track.Title).
		Str("artist", track.Artist).
		Msg("Loaded next track")

	if r.opts.OnTrackStart != nil {
		r.opts.OnTrackStart(*track)
	}
	return nil
}

func (r *Reconciler) setDesired(ctx context.Context, state DesiredState) {
	r.desired = state
	if err := r.store.SetDesiredState(ctx, state); err != nil {
		log.Warn().Err(err).Str("state", string(state)).Msg("Persisting desired state failed")
	}
}

func (r *Reconciler) clearCurrent(ctx context.Context) {
	if r.current == nil {
		return
	}
	r.current = nil
	if err := r.store.ClearCurrentTrack(ctx); err != nil {
		log.Warn().Err(err).Msg("Clearing current track failed")
	}
}

// publish writes the status snapshot. A degraded snapshot with an error
// message is always preferable to no update: consumers rely on the
// steady heartbeat to detect the core as alive.
func (r *Reconciler) publish(ctx context.Context, errMsg string) {
	// re-derive the observed state after this tick's corrective action
	idle, okIdle := r.boolProp("idle-active")
	paused, okPaused := r.boolProp("pause")
	if okIdle && okPaused {
		r.lastIdle, r.lastPaused = idle, paused
	} else if errMsg == "" {
		errMsg = "engine property read failed"
	}

	status := Status{
		Timestamp:    time.Now(),
		DesiredState: r.desired,
		ActualState:  DeriveActualState(r.lastIdle, r.lastPaused),
		IdleActive:   r.lastIdle,
		Paused:       r.lastPaused,
		Volume:       r.volume,
		Track:        r.current,
		ErrorMessage: errMsg,
	}

	if v, ok := r.floatProp("time-pos"); ok {
		status.Elapsed = v
	}
	if v, ok := r.floatProp("duration"); ok {
		status.Duration = v
	}
	if v, ok := r.floatProp("volume"); ok {
		status.Volume = int(v + 0.5)
	}

	if err := r.store.WriteStatus(ctx, status.Fields()); err != nil {
		log.Error().Err(err).Msg("Writing status snapshot failed")
	}

	if r.opts.OnStatus != nil {
		r.opts.OnStatus(status)
	}
}

func (r *Reconciler) boolProp(name string) (bool, bool) {
	v, ok := r.engine.GetProperty(name)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func (r *Reconciler) floatProp(name string) (float64, bool) {
	v, ok := r.engine.GetProperty(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
