// Package runner executes a compiled step sequence against a device. One
// Runner drives one run on one goroutine; pause, stop and skip arrive
// asynchronously through the shared State.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/JcJet/jds6600-controller/internal/device"
	"github.com/JcJet/jds6600-controller/internal/models"
	"github.com/JcJet/jds6600-controller/internal/script"
)

// Result is the terminal outcome of a run. Device errors are reported
// separately through the error return.
type Result int

const (
	ResultOK      Result = 0
	ResultStopped Result = 4
)

const (
	sleepSlice   = 50 * time.Millisecond
	pauseSlice   = 100 * time.Millisecond
	tickInterval = 250 * time.Millisecond
)

// Config assembles a Runner. Device and Steps are required; everything else
// has a usable zero value.
type Config struct {
	Device         device.Device
	Steps          []models.Step
	State          *State
	Observer       Observer
	Logger         *slog.Logger
	FixedWait      *float64
	DefaultChannel string
	Resume         *models.Checkpoint
	WarnDualSweep  bool
}

type Runner struct {
	dev   device.Device
	steps []models.Step
	state *State
	obs   Observer
	log   *slog.Logger

	fixedWait     *float64
	defaultCh     string
	resume        *models.Checkpoint
	warnDualSweep bool

	lastTick time.Time
}

func New(cfg Config) *Runner {
	r := &Runner{
		dev:           cfg.Device,
		steps:         cfg.Steps,
		state:         cfg.State,
		obs:           cfg.Observer,
		log:           cfg.Logger,
		fixedWait:     cfg.FixedWait,
		defaultCh:     cfg.DefaultChannel,
		resume:        cfg.Resume,
		warnDualSweep: cfg.WarnDualSweep,
	}
	if r.state == nil {
		r.state = NewState()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.defaultCh == "" {
		r.defaultCh = "both"
	}
	return r
}

// AdaptiveVoltage is the amplitude-vs-frequency compensation curve. It
// approximates the device's own table; the constants are load-bearing.
func AdaptiveVoltage(freqHz float64) float64 {
	if freqHz <= 0 {
		return 5.0
	}
	v := 1.835 * math.Pow(freqHz, 0.223)
	return math.Min(20.0, math.Max(5.0, v))
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeSkipped
	outcomeStopped
)

// Run executes the step sequence. A valid Resume checkpoint starts the run
// mid-sequence (and possibly mid-step); otherwise execution starts at step
// 0. The device connection is always closed on the way out.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if err := r.dev.Connect(); err != nil {
		return ResultOK, &device.ConnectError{Err: err}
	}
	defer func() {
		if err := r.dev.Close(); err != nil {
			r.log.Warn("closing device", "error", err)
		}
	}()

	total := len(r.steps)
	startIndex := 0
	var within *models.Within
	if cp := r.resume; cp != nil &&
		cp.Version == models.CheckpointVersion &&
		cp.StepIndex >= 0 && cp.StepIndex < total &&
		r.steps[cp.StepIndex].Kind() == cp.StepKind {
		startIndex = cp.StepIndex
		within = cp.Within
		r.obs.status(fmt.Sprintf("Resuming from step %d/%d", startIndex+1, total))
		r.log.Info("resuming run", "step", startIndex+1, "total", total)
	}

	for i := startIndex; i < total; i++ {
		step := r.steps[i]
		cp := &models.Checkpoint{
			Version:    models.CheckpointVersion,
			StepIndex:  i,
			StepKind:   step.Kind(),
			SourceLine: step.Line(),
		}
		r.publishCheckpoint(cp)

		if r.stopped(ctx) {
			return r.finishStopped()
		}

		est := script.EstimateRemainingRunTime(r.steps, i, r.fixedWait)
		r.obs.progress(i, total, est, step)

		for r.state.Paused() && !r.stopped(ctx) {
			time.Sleep(pauseSlice)
		}
		if r.stopped(ctx) {
			return r.finishStopped()
		}

		resumeWithin := within
		within = nil

		var out outcome
		var err error
		switch s := step.(type) {
		case models.FreqStep:
			r.obs.status(fmt.Sprintf("[%d/%d] freq=%g Hz (line %d) | remaining: %s",
				i+1, total, s.Hz, s.SourceLine, FormatSeconds(est)))
			err = r.runFreq(s)
		case models.StopStep:
			r.obs.status(fmt.Sprintf("[%d/%d] stop (line %d)", i+1, total, s.SourceLine))
			err = r.dev.SetChannels(false, false)
		case models.WaitStep:
			out = r.runWait(ctx, cp, s, resumeWithin, i, total)
		case models.CycleStep:
			out, err = r.runCycle(ctx, cp, s, resumeWithin, i, total)
		case models.ModStep:
			out, err = r.runMod(ctx, cp, s, resumeWithin, i, total)
		default:
			err = fmt.Errorf("unknown step kind %q", step.Kind())
		}
		if err != nil {
			return ResultOK, fmt.Errorf("step %d (line %d): %w", i+1, step.Line(), err)
		}
		if out == outcomeStopped {
			return r.finishStopped()
		}
		if out == outcomeSkipped {
			r.obs.status(fmt.Sprintf("[%d/%d] skipped", i+1, total))
		}
	}

	r.state.clearCheckpoint()
	r.obs.checkpoint(nil)
	r.obs.status("Done.")
	return ResultOK, nil
}

func (r *Runner) stopped(ctx context.Context) bool {
	return r.state.Stopped() || ctx.Err() != nil
}

// finishStopped ends the run after a stop or cancellation. An explicit stop
// clears the checkpoint so the run cannot be auto-resumed; a context
// cancellation (ctrl-c, UI teardown) keeps it so the next invocation can
// offer resume.
func (r *Runner) finishStopped() (Result, error) {
	if r.state.Stopped() {
		r.state.clearCheckpoint()
		r.obs.checkpoint(nil)
		r.obs.status("Stopped.")
	} else {
		r.obs.status("Interrupted.")
	}
	return ResultStopped, nil
}

func (r *Runner) publishCheckpoint(cp *models.Checkpoint) {
	r.state.setCheckpoint(cp)
	r.obs.checkpoint(cp.Clone())
}

// sleep blocks for the given seconds in short slices so control flags are
// observed promptly. Pause extends the deadline instead of consuming it.
// onTick fires at most every tickInterval with the remaining seconds.
func (r *Runner) sleep(ctx context.Context, seconds float64, onTick func(remaining float64)) outcome {
	deadline := time.Now().Add(time.Duration(seconds * float64(time.Second)))
	var lastTick time.Time
	for {
		if r.stopped(ctx) {
			return outcomeStopped
		}
		if r.state.consumeSkip() {
			return outcomeSkipped
		}
		if r.state.Paused() {
			time.Sleep(sleepSlice)
			deadline = deadline.Add(sleepSlice)
			continue
		}
		now := time.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			if onTick != nil {
				onTick(0)
			}
			return outcomeDone
		}
		if onTick != nil && now.Sub(lastTick) >= tickInterval {
			onTick(remaining.Seconds())
			lastTick = now
		}
		if remaining < sleepSlice {
			time.Sleep(remaining)
		} else {
			time.Sleep(sleepSlice)
		}
	}
}

// pushDeviceState sends a state snapshot to the observer, throttled to the
// tick interval and skipped entirely when the backend has no read side or
// the handle is busy.
func (r *Runner) pushDeviceState() {
	sr, ok := r.dev.(device.StateReader)
	if !ok {
		return
	}
	now := time.Now()
	if now.Sub(r.lastTick) < tickInterval {
		return
	}
	r.lastTick = now
	st, err := sr.TryReadState()
	if err != nil {
		return
	}
	r.obs.deviceState(st.Format())
}

func (r *Runner) channelsFor(opts models.Options) []int {
	sel, ok := opts["channel"]
	if !ok || sel == nil || sel == "" {
		sel = r.defaultCh
	}
	return device.ResolveChannels(sel)
}

var reservedOptionKeys = map[string]bool{
	"channel": true, "channels": true,
	"ch1": true, "ch2": true, "channel1": true, "channel2": true,
}

// applySettings pushes every non-reserved option to the device for one
// channel. "frequency" and "amplitude" route to their typed setters; the
// rest go through dynamic dispatch by key name.
func (r *Runner) applySettings(channel int, opts models.Options, skip map[string]bool) error {
	for key, val := range opts {
		if reservedOptionKeys[key] || (skip != nil && skip[key]) {
			continue
		}
		switch key {
		case "frequency":
			f, err := asFloat(val)
			if err != nil {
				return fmt.Errorf("option frequency: %w", err)
			}
			if err := r.dev.SetFrequency(channel, f); err != nil {
				return err
			}
		case "amplitude":
			f, err := asFloat(val)
			if err != nil {
				return fmt.Errorf("option amplitude: %w", err)
			}
			if err := r.dev.SetAmplitude(channel, f); err != nil {
				return err
			}
		default:
			if err := r.dev.SetOption(channel, key, val); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) runFreq(s models.FreqStep) error {
	opts := s.Options
	chs := r.channelsFor(opts)

	if c, ok := opts["channels"].(map[string]any); ok {
		ch1 := asBool(firstOf(c, "channel1", "ch1"), true)
		ch2 := asBool(firstOf(c, "channel2", "ch2"), true)
		if err := r.dev.SetChannels(ch1, ch2); err != nil {
			return err
		}
	}

	perCh := map[int]map[string]any{}
	if m, ok := opts["ch1"].(map[string]any); ok {
		perCh[1] = m
	}
	if m, ok := opts["ch2"].(map[string]any); ok {
		perCh[2] = m
	}

	if len(perCh) > 0 {
		for _, ch := range []int{1, 2} {
			settings, ok := perCh[ch]
			if !ok {
				continue
			}
			hz := s.Hz
			rest := make(models.Options, len(settings))
			for k, v := range settings {
				if k == "frequency" {
					f, err := asFloat(v)
					if err != nil {
						return fmt.Errorf("ch%d frequency override: %w", ch, err)
					}
					hz = f
					continue
				}
				rest[k] = v
			}
			if err := r.dev.SetFrequency(ch, hz); err != nil {
				return err
			}
			if err := r.applySettings(ch, rest, nil); err != nil {
				return err
			}
		}
		return nil
	}

	noFreq := map[string]bool{"frequency": true}
	for _, ch := range chs {
		if err := r.dev.SetFrequency(ch, s.Hz); err != nil {
			return err
		}
		if err := r.applySettings(ch, opts, noFreq); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runWait(ctx context.Context, cp *models.Checkpoint, s models.WaitStep, within *models.Within, i, total int) outcome {
	eff := s.Seconds
	if r.fixedWait != nil {
		eff = *r.fixedWait
	}
	if within != nil && within.Kind == models.WithinWait {
		eff = within.Remaining
	}
	r.obs.status(fmt.Sprintf("[%d/%d] wait %gs (line %d)", i+1, total, eff, s.SourceLine))

	return r.sleep(ctx, eff, func(remaining float64) {
		cp.Within = &models.Within{Kind: models.WithinWait, Remaining: remaining}
		r.publishCheckpoint(cp)
		r.pushDeviceState()
	})
}

func cycleItemCount(it models.CycleItem) int {
	if rng, ok := it.(models.CycleRange); ok {
		return script.CycleRangeCount(rng)
	}
	return 1
}

func cycleItemPoint(it models.CycleItem, k int) float64 {
	switch v := it.(type) {
	case models.CyclePoint:
		return float64(v)
	case models.CycleRange:
		return v.StartHz + float64(k)*v.StepHz
	}
	return 0
}

func (r *Runner) runCycle(ctx context.Context, cp *models.Checkpoint, s models.CycleStep, within *models.Within, i, total int) (outcome, error) {
	chs := r.channelsFor(s.Options)

	skipFreq := map[string]bool{"frequency": true}
	for _, ch := range chs {
		if err := r.applySettings(ch, s.Options, skipFreq); err != nil {
			return outcomeDone, err
		}
	}

	onEff := s.OnWait
	if r.fixedWait != nil && onEff > 0 {
		onEff = *r.fixedWait
	}
	offEff := 0.0
	if s.OffWait != nil && *s.OffWait > 0 {
		offEff = *s.OffWait
		if r.fixedWait != nil {
			offEff = *r.fixedWait
		}
	}

	totalPoints := script.CycleItemsCount(s.Items)
	r.obs.status(fmt.Sprintf("[%d/%d] cycle: %d points, on=%gs off=%gs (line %d)",
		i+1, total, totalPoints, onEff, offEff, s.SourceLine))

	resume := within
	if resume != nil && resume.Kind != models.WithinCycle && resume.Kind != models.WithinCycleWait {
		resume = nil
	}

	hold := func(phase models.CyclePhase, seconds float64, itemI, k, n int) outcome {
		return r.sleep(ctx, seconds, func(remaining float64) {
			cp.Within = &models.Within{
				Kind:      models.WithinCycleWait,
				ItemIndex: itemI,
				SubK:      k,
				SubN:      n,
				Phase:     phase,
				Remaining: remaining,
			}
			r.publishCheckpoint(cp)
			r.pushDeviceState()
		})
	}

	setFreq := func(hz float64) error {
		for _, ch := range chs {
			if err := r.dev.SetFrequency(ch, hz); err != nil {
				return err
			}
			if s.AdaptiveVoltage {
				if err := r.dev.SetAmplitude(ch, AdaptiveVoltage(hz)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for itemI, item := range s.Items {
		n := cycleItemCount(item)

		startK := 0
		if resume != nil {
			if resume.ItemIndex > itemI {
				continue
			}
			if resume.ItemIndex == itemI {
				startK = resume.SubK
				if startK < 0 {
					startK = 0
				}
				if startK > n-1 {
					startK = n - 1
				}
			}
		}

		for k := startK; k < n; k++ {
			if r.stopped(ctx) {
				return outcomeStopped, nil
			}

			onRemaining := onEff
			offRemaining := offEff
			skipOnPhase := false
			if resume != nil && resume.ItemIndex == itemI && resume.SubK == k {
				if resume.Kind == models.WithinCycleWait {
					switch resume.Phase {
					case models.PhaseOn:
						onRemaining = resume.Remaining
					case models.PhaseOff:
						skipOnPhase = true
						offRemaining = resume.Remaining
					}
				}
				resume = nil
			}

			hz := cycleItemPoint(item, k)

			if !skipOnPhase {
				if err := setFreq(hz); err != nil {
					return outcomeDone, err
				}
				cp.Within = &models.Within{
					Kind:      models.WithinCycle,
					ItemIndex: itemI,
					SubK:      k,
					SubN:      n,
					FreqHz:    hz,
				}
				r.publishCheckpoint(cp)

				if onRemaining > 0 {
					if out := hold(models.PhaseOn, onRemaining, itemI, k, n); out == outcomeStopped {
						return outcomeStopped, nil
					}
				}
			}

			if offEff > 0 {
				if r.stopped(ctx) {
					return outcomeStopped, nil
				}
				if err := setFreq(s.PauseHz); err != nil {
					return outcomeDone, err
				}
				if out := hold(models.PhaseOff, offRemaining, itemI, k, n); out == outcomeStopped {
					return outcomeStopped, nil
				}
			}
		}
	}

	return outcomeDone, nil
}

type sweepLeg struct {
	name models.ModLeg
	from float64
	to   float64
}

func modLegs(s models.ModStep) []sweepLeg {
	switch s.Direction {
	case models.DirRise:
		return []sweepLeg{{models.LegRise, s.StartHz, s.EndHz}}
	case models.DirFall:
		return []sweepLeg{{models.LegFall, s.EndHz, s.StartHz}}
	}
	return []sweepLeg{
		{models.LegRise, s.StartHz, s.EndHz},
		{models.LegFall, s.EndHz, s.StartHz},
	}
}

func (r *Runner) runMod(ctx context.Context, cp *models.Checkpoint, s models.ModStep, within *models.Within, i, total int) (outcome, error) {
	chs := r.channelsFor(s.Options)
	if r.warnDualSweep && len(chs) == 2 {
		r.obs.status("Warning: sweeping both channels at once can produce unstable output on some units")
		r.log.Warn("dual-channel sweep requested")
	}

	skip := map[string]bool{"frequency": true}
	if s.AdaptiveVoltage {
		skip["amplitude"] = true
	}
	for _, ch := range chs {
		if err := r.applySettings(ch, s.Options, skip); err != nil {
			return outcomeDone, err
		}
	}

	updates := script.ModUpdates(s)
	legs := modLegs(s)
	interUpdate := s.TimeS / float64(updates)

	r.obs.status(fmt.Sprintf("[%d/%d] mod %g..%g Hz, %gs/leg, %d updates, %s (line %d)",
		i+1, total, s.StartHz, s.EndHz, s.TimeS, updates, s.Direction, s.SourceLine))

	startLeg, startK := 0, 0
	if within != nil && within.Kind == models.WithinMod && within.Updates > 0 {
		for li, leg := range legs {
			if leg.name == within.Leg {
				startLeg = li
				startK = int(math.Round(float64(within.K) / float64(within.Updates) * float64(updates)))
				if startK < 0 {
					startK = 0
				}
				if startK > updates {
					startK = updates
				}
				break
			}
		}
	}

	var lastEmit time.Time
	firstCycle := true
	for {
		legStart := 0
		if firstCycle {
			legStart = startLeg
		}
		for li := legStart; li < len(legs); li++ {
			leg := legs[li]
			k0 := 0
			if firstCycle && li == startLeg {
				k0 = startK
			}
			for k := k0; k <= updates; k++ {
				if r.stopped(ctx) {
					return outcomeStopped, nil
				}
				if r.state.consumeSkip() {
					return outcomeSkipped, nil
				}

				hz := leg.from + (leg.to-leg.from)*float64(k)/float64(updates)

				cp.Within = &models.Within{
					Kind:    models.WithinMod,
					Leg:     leg.name,
					K:       k,
					Updates: updates,
					FromHz:  leg.from,
					ToHz:    leg.to,
				}
				r.state.setCheckpoint(cp)
				if now := time.Now(); now.Sub(lastEmit) >= tickInterval {
					r.obs.checkpoint(cp.Clone())
					r.pushDeviceState()
					lastEmit = now
				}

				for _, ch := range chs {
					if err := r.dev.SetFrequency(ch, hz); err != nil {
						return outcomeDone, err
					}
					if s.AdaptiveVoltage {
						if err := r.dev.SetAmplitude(ch, AdaptiveVoltage(hz)); err != nil {
							return outcomeDone, err
						}
					}
				}

				if k < updates {
					switch r.sleep(ctx, interUpdate, nil) {
					case outcomeStopped:
						return outcomeStopped, nil
					case outcomeSkipped:
						return outcomeSkipped, nil
					}
				}
			}
		}
		if !s.Repeat {
			return outcomeDone, nil
		}
		firstCycle = false
	}
}

func asFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", t)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%v is not a number", v)
}

func asBool(v any, def bool) bool {
	switch t := v.(type) {
	case nil:
		return def
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}
