package installer

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

type Stage int

const (
	StageStart Stage = iota
	StageLocked
	StageValidated
	StageCleaned
	StagePartitioned
	StageBootPoolReady
	StageStoragePoolReady
	StageInstallerRun
	StagePoolsExported
	StageDone
	StageRollingBack
	StageFailed
)

var stageNames = [...]string{
	"start",
	"locked",
	"validated",
	"cleaned",
	"partitioned",
	"boot_pool_ready",
	"storage_pool_ready",
	"installer_run",
	"pools_exported",
	"done",
	"rolling_back",
	"failed",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Observer receives installation telemetry.
type Observer interface {
	ObserveInstall(result string, d time.Duration)
	ObserveStage(stage string, d time.Duration)
	IncRollback()
}

type nopObserver struct{}

func (nopObserver) ObserveInstall(string, time.Duration) {}
func (nopObserver) ObserveStage(string, time.Duration)   {}
func (nopObserver) IncRollback()                         {}

// attempt is the state of one Install call. It never outlives the call.
type attempt struct {
	id    string
	stage Stage
	since time.Time
	// pools holds the pools created so far, in creation order.
	pools []string
	// destructive is set once cleanup begins; failures after it roll back.
	destructive bool

	log zerolog.Logger
	obs Observer
}

func (a *attempt) enter(s Stage) {
	now := time.Now()
	a.obs.ObserveStage(a.stage.String(), now.Sub(a.since))
	a.log.Info().Str("from", a.stage.String()).Str("to", s.String()).Msg("stage")
	a.stage, a.since = s, now
}

func (a *attempt) track(pool string) {
	a.pools = append(a.pools, pool)
}

// reporter enforces that reported progress never goes backwards or leaves [0,1].
type reporter struct {
	fn   ProgressFunc
	last float64
}

func newReporter(fn ProgressFunc) *reporter {
	if fn == nil {
		fn = func(float64, string) {}
	}
	return &reporter{fn: fn}
}

// message reports msg at the current progress.
func (r *reporter) message(msg string) {
	r.emit(r.last, msg)
}

func (r *reporter) emit(p float64, msg string) {
	if math.IsNaN(p) || p < r.last {
		p = r.last
	}
	if p > 1 {
		p = 1
	}
	r.last = p
	r.fn(p, msg)
}
