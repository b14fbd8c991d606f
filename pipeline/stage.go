package pipeline

import (
	"fmt"

	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
)

// Stage is a step of a pipeline run.
type Stage int

const (
	StageInit Stage = iota
	StageLoaded
	StageCleaned
	StageEncoded
	StageScored
	StageScaled
	StageSplit
	StageTrained
	StageEvaluated
	StageRebalanced
	StageRetrained
	StagePersisted
	StageFailed
)

var stageNames = map[Stage]string{
	StageInit:       "init",
	StageLoaded:     "loaded",
	StageCleaned:    "cleaned",
	StageEncoded:    "encoded",
	StageScored:     "scored",
	StageScaled:     "scaled",
	StageSplit:      "split",
	StageTrained:    "trained",
	StageEvaluated:  "evaluated",
	StageRebalanced: "rebalanced",
	StageRetrained:  "retrained",
	StagePersisted:  "persisted",
	StageFailed:     "failed",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// transitions lists the legal successors of each stage. A scaled table is
// persisted and reloaded, so Scaled leads back to Loaded for the trainer.
var transitions = map[Stage][]Stage{
	StageInit:       {StageLoaded},
	StageLoaded:     {StageCleaned, StageSplit},
	StageCleaned:    {StageEncoded},
	StageEncoded:    {StageScored, StageScaled},
	StageScored:     {StageScaled},
	StageScaled:     {StageLoaded},
	StageSplit:      {StageTrained},
	StageTrained:    {StageEvaluated},
	StageEvaluated:  {StageRebalanced, StagePersisted},
	StageRebalanced: {StageRetrained},
	StageRetrained:  {StageEvaluated},
}

// Tracker enforces the stage order of one run. Once a stage fails, the run
// is halted and every further transition is rejected.
type Tracker struct {
	current Stage
	history []Stage
	err     error
	logger  log.Logger
}

// NewTracker starts a run in StageInit.
func NewTracker() *Tracker {
	return &Tracker{
		current: StageInit,
		history: []Stage{StageInit},
		logger:  log.GetLoggerWithName("pipeline"),
	}
}

// Current returns the stage reached last.
func (t *Tracker) Current() Stage { return t.current }

// History returns every stage reached so far, in order.
func (t *Tracker) History() []Stage { return append([]Stage(nil), t.history...) }

// Err returns the error that halted the run, if any.
func (t *Tracker) Err() error { return t.err }

// Reached reports whether s appears in the history.
func (t *Tracker) Reached(s Stage) bool {
	for _, h := range t.history {
		if h == s {
			return true
		}
	}
	return false
}

// Advance moves to next. Rebalancing may happen at most once per run.
func (t *Tracker) Advance(next Stage) error {
	if t.current == StageFailed {
		return errors.Wrapf(t.err, "pipeline: run halted, cannot enter %s", next)
	}
	legal := false
	for _, s := range transitions[t.current] {
		if s == next {
			legal = true
			break
		}
	}
	if !legal || (next == StageRebalanced && t.Reached(StageRebalanced)) {
		return errors.Newf("pipeline: illegal transition %s -> %s", t.current, next)
	}
	t.logger.Debug("Stage reached", log.StageKey, next.String(), "from", t.current.String())
	t.current = next
	t.history = append(t.history, next)
	return nil
}

// Fail halts the run with err and returns err wrapped with the failing stage.
func (t *Tracker) Fail(err error) error {
	if err == nil {
		return nil
	}
	if t.current == StageFailed {
		return err
	}
	wrapped := errors.Wrapf(err, "pipeline: stage after %s failed", t.current)
	t.logger.Error("Pipeline halted", err, log.StageKey, t.current.String())
	t.err = wrapped
	t.current = StageFailed
	t.history = append(t.history, StageFailed)
	return wrapped
}
