// Package orchestrator owns the run lifecycle around the engine: compile
// the source, validate a persisted resume point, record run history, drive
// the engine, and persist or clear the resume point depending on how the
// run ended.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/JcJet/jds6600-controller/internal/device"
	"github.com/JcJet/jds6600-controller/internal/models"
	"github.com/JcJet/jds6600-controller/internal/program"
	"github.com/JcJet/jds6600-controller/internal/runner"
	"github.com/JcJet/jds6600-controller/internal/script"
	"github.com/JcJet/jds6600-controller/internal/storage"
)

type Orchestrator struct {
	storage *storage.Storage
	log     *slog.Logger
}

func New(store *storage.Storage, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{storage: store, log: log}
}

// RunRequest describes one invocation of a command file.
type RunRequest struct {
	FilePath       string
	DeviceName     string
	Port           string
	DefaultChannel string
	FixedWait      *float64
	WarnDualSweep  bool
	TryResume      bool
	State          *runner.State
	Observer       runner.Observer
}

// RunResult is the terminal outcome plus the run history record.
type RunResult struct {
	Result runner.Result
	Run    *models.Run
}

// CompileSource compiles the file at path, running it through the Lua
// generator first when it is a .lua script.
func CompileSource(path string) ([]models.Step, error) {
	if program.IsProgram(path) {
		text, err := program.NewRuntime().ExecuteFile(path)
		if err != nil {
			return nil, err
		}
		return script.Compile(text)
	}
	return script.CompileFile(path)
}

// Execute runs the request to completion. The resume point is consumed at
// the start; on a pause-and-quit it is re-persisted from the last
// checkpoint, on normal completion or stop it stays cleared.
func (o *Orchestrator) Execute(ctx context.Context, req RunRequest) (*RunResult, error) {
	steps, err := CompileSource(req.FilePath)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%s contains no commands", req.FilePath)
	}

	abs, err := filepath.Abs(req.FilePath)
	if err != nil {
		return nil, err
	}
	sha, err := storage.FileSHA256(abs)
	if err != nil {
		return nil, err
	}

	var resume *models.Checkpoint
	if req.TryResume {
		rp, err := o.storage.LoadResume(abs)
		if err != nil {
			return nil, err
		}
		if rp != nil {
			resume = rp.Checkpoint
			o.log.Info("resume point found", "step", resume.StepIndex+1, "saved_at", time.Unix(rp.SavedAt, 0))
		} else {
			o.log.Info("no valid resume point, starting from the top")
		}
	}
	// The stored point is one-shot; a fresh one is written if this run is
	// interrupted again.
	if err := o.storage.ClearResume(); err != nil {
		return nil, err
	}

	dev, err := device.Open(req.DeviceName, req.Port)
	if err != nil {
		return nil, &device.ConnectError{Err: err}
	}

	run := &models.Run{
		FilePath:   abs,
		FileSHA256: sha,
		Status:     models.RunStatusRunning,
		TotalSteps: len(steps),
	}
	if run.ID, err = o.storage.CreateRun(run); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}

	state := req.State
	if state == nil {
		state = runner.NewState()
	}

	r := runner.New(runner.Config{
		Device:         dev,
		Steps:          steps,
		State:          state,
		Observer:       req.Observer,
		Logger:         o.log,
		FixedWait:      req.FixedWait,
		DefaultChannel: req.DefaultChannel,
		Resume:         resume,
		WarnDualSweep:  req.WarnDualSweep,
	})

	result, runErr := r.Run(ctx)

	now := time.Now()
	run.CompletedAt = &now
	if cp := state.Checkpoint(); cp != nil {
		run.LastStepIndex = cp.StepIndex
	} else {
		run.LastStepIndex = len(steps) - 1
	}
	switch {
	case runErr != nil:
		run.Status = models.RunStatusError
		run.Error = runErr.Error()
	case result == runner.ResultStopped:
		run.Status = models.RunStatusStopped
	default:
		run.Status = models.RunStatusOK
	}
	if err := o.storage.UpdateRun(run); err != nil {
		o.log.Warn("updating run record", "error", err)
	}

	// An interrupted run (device error, ctrl-c mid-step) leaves a live
	// checkpoint; persist it so the next invocation can offer resume. A
	// stopped or completed run has none.
	if cp := state.Checkpoint(); cp != nil {
		if err := o.storage.SaveResume(abs, cp); err != nil {
			o.log.Warn("persisting resume point", "error", err)
		} else {
			o.log.Info("resume point saved", "step", cp.StepIndex+1)
		}
	}

	if runErr != nil {
		return &RunResult{Result: result, Run: run}, runErr
	}
	return &RunResult{Result: result, Run: run}, nil
}
