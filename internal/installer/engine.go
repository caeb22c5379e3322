// Package installer orchestrates an installation: it prepares disks, creates
// the boot and storage pools, runs the installer payload and rolls all of it
// back when a step fails.
package installer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nithronos/zinstaller/internal/config"
	"nithronos/zinstaller/internal/disks"
	"nithronos/zinstaller/internal/installlock"
	"nithronos/zinstaller/internal/insterr"
	"nithronos/zinstaller/internal/payload"
	"nithronos/zinstaller/internal/pools"
	"nithronos/zinstaller/internal/prepare"
	"nithronos/zinstaller/internal/sysinfo"
	"nithronos/zinstaller/pkg/shell"
)

type Engine struct {
	Lock    *installlock.Lock
	Disks   disks.Lister
	Prepare *prepare.Preparer
	Pools   *pools.Manager
	Payload *payload.Driver
	Metrics Observer
	// Memory reports installed RAM for the preflight warning; nil skips it.
	Memory func(ctx context.Context) (uint64, error)

	log zerolog.Logger
}

func New(cfg config.Config, run shell.Runner, lister disks.Lister, log zerolog.Logger) *Engine {
	prep := prepare.New(run, log)
	prep.Tries = cfg.PartitionTries
	prep.Interval = cfg.PartitionInterval
	pm := pools.New(run, log)
	pm.BootPool = cfg.BootPool
	pm.StoragePool = cfg.StoragePool
	return &Engine{
		Lock:    installlock.New(cfg.LockFile),
		Disks:   lister,
		Prepare: prep,
		Pools:   pm,
		Payload: payload.New(run, log, cfg.Payload()),
		Metrics: nopObserver{},
		Memory:  sysinfo.TotalMemory,
		log:     log.With().Str("component", "installer").Logger(),
	}
}

// Install performs one installation. Only one runs at a time; a second call
// waits for the first to finish. Any failure after disk cleanup has begun is
// rolled back before Install returns. The returned error, if any, is always
// an *InstallationError.
func (e *Engine) Install(ctx context.Context, req Request, progress ProgressFunc) error {
	obs := e.Metrics
	if obs == nil {
		obs = nopObserver{}
	}
	a := &attempt{id: uuid.NewString(), stage: StageStart, since: time.Now(), obs: obs}
	a.log = e.log.With().Str("attempt", a.id).Logger()
	rep := newReporter(progress)
	start := time.Now()

	release, err := e.Lock.Acquire(ctx)
	if err != nil {
		return insterr.Wrap(err, "Failed to acquire installation lock: %v", err)
	}
	defer release()
	a.enter(StageLocked)

	err = e.install(ctx, req, a, rep)
	if err != nil {
		if a.destructive {
			a.enter(StageRollingBack)
			obs.IncRollback()
			e.rollback(context.WithoutCancel(ctx), req, a)
		}
		a.enter(StageFailed)
		obs.ObserveInstall("failure", time.Since(start))
		ie := insterr.From(err, "Installation failed")
		a.log.Error().Err(err).Str("message", ie.Message).Msg("installation failed")
		return ie
	}
	a.enter(StageDone)
	obs.ObserveInstall("success", time.Since(start))
	rep.emit(1, "Installation completed successfully")
	return nil
}

// Busy reports whether an installation holds the lock in this process.
func (e *Engine) Busy() bool { return e.Lock.Busy() }

// install runs every stage, turning a panic into an error so the caller can
// still roll back.
func (e *Engine) install(ctx context.Context, req Request, a *attempt, rep *reporter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Str("stage", a.stage.String()).Msg("recovered")
			err = fmt.Errorf("unexpected fault during %s: %v", a.stage, r)
		}
	}()

	pl, err := e.validate(ctx, req)
	if err != nil {
		return err
	}
	a.enter(StageValidated)

	a.destructive = true
	rep.message("Cleaning existing pools and disks")
	e.cleanup(ctx, req, pl, a)
	a.enter(StageCleaned)

	var parts []string
	for _, d := range req.DestinationDisks {
		rep.message("Preparing system disk " + d.Name)
		got, err := e.Prepare.FormatDisk(ctx, d, req.SetPMBR)
		if err != nil {
			return err
		}
		part, ok := got[prepare.DataPartition]
		if !ok {
			return insterr.New("Failed to find data partition on %s", d.Name)
		}
		parts = append(parts, part)
	}
	a.enter(StagePartitioned)

	rep.message("Creating boot pool")
	if err := e.Pools.CreateBootPool(ctx, parts); err != nil {
		return err
	}
	a.track(e.Pools.BootPool)
	a.enter(StageBootPoolReady)

	if sp := req.StoragePool; sp != nil {
		if err := e.Pools.CreateStoragePool(ctx, sp.Topology, sp.Disks, rep.message); err != nil {
			return err
		}
		a.track(e.Pools.StoragePool)
		a.enter(StageStoragePoolReady)
	}

	a.enter(StageInstallerRun)
	rep.message("Running installer")
	preq := payload.Request{
		Disks:          disks.Names(req.DestinationDisks),
		PoolName:       e.Pools.BootPool,
		Authentication: req.Authentication,
		PostInstall:    req.PostInstall,
		SQL:            req.SerialSQL,
	}
	if err := e.Payload.Run(ctx, preq, rep.emit); err != nil {
		return err
	}

	for _, p := range a.pools {
		if err := e.Pools.Export(ctx, p); err != nil {
			a.log.Warn().Err(err).Str("pool", p).Msg("export failed")
		}
	}
	a.enter(StagePoolsExported)
	return nil
}

// cleanup removes whatever earlier installations left on the disks this
// request touches. Every step is best-effort.
func (e *Engine) cleanup(ctx context.Context, req Request, pl plan, a *attempt) {
	for _, d := range req.WipeDisks {
		_ = e.Prepare.WipeDisk(ctx, d)
		_ = e.Prepare.ClearLabels(ctx, d)
	}

	refs, err := e.Pools.List(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("cannot list pools")
	}
	for _, ref := range refs {
		if !e.Pools.Managed(ref.Name) && !pl.touchedPools[ref.Name] {
			a.log.Info().Str("pool", ref.Name).Msg("leaving unrelated pool imported")
			continue
		}
		a.log.Info().Str("pool", ref.Name).Str("guid", ref.GUID).Msg("removing existing pool")
		e.Pools.ExportDestroy(ctx, ref.Name)
	}

	for _, d := range req.DestinationDisks {
		_ = e.Prepare.ForceClean(ctx, d)
	}
	for _, p := range []string{e.Pools.BootPool, e.Pools.StoragePool} {
		if err := e.Pools.Destroy(ctx, p); err != nil {
			a.log.Debug().Err(err).Str("pool", p).Msg("destroy")
		}
	}
}
