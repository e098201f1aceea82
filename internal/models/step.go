package models

// Options is the open string-keyed settings mapping attached to a step
// (channel selector, waveform, duty cycle, amplitude, ...). It is passed
// through to the device layer without interpretation beyond the reserved
// channel-routing keys.
type Options map[string]any

// StepKind identifies one of the five step variants.
type StepKind string

const (
	KindFreq  StepKind = "freq"
	KindWait  StepKind = "wait"
	KindStop  StepKind = "stop"
	KindMod   StepKind = "mod"
	KindCycle StepKind = "cycle"
)

// Step is the unit of execution produced by the compiler. The set of
// implementations is closed: FreqStep, WaitStep, StopStep, ModStep and
// CycleStep. Every step remembers the 1-based line it was compiled from.
type Step interface {
	Kind() StepKind
	Line() int
}

// FreqStep sets one instantaneous frequency.
type FreqStep struct {
	Hz         float64
	Options    Options
	SourceLine int
}

func (s FreqStep) Kind() StepKind { return KindFreq }
func (s FreqStep) Line() int      { return s.SourceLine }

// WaitStep holds the current device state for a duration.
type WaitStep struct {
	Seconds    float64
	SourceLine int
}

func (s WaitStep) Kind() StepKind { return KindWait }
func (s WaitStep) Line() int      { return s.SourceLine }

// StopStep disables all outputs.
type StopStep struct {
	SourceLine int
}

func (s StopStep) Kind() StepKind { return KindStop }
func (s StopStep) Line() int      { return s.SourceLine }

// Direction of a frequency sweep.
type Direction string

const (
	DirRise        Direction = "rise"
	DirFall        Direction = "fall"
	DirRiseAndFall Direction = "rise-and-fall"
)

// ModStep is a continuous frequency sweep.
//
// TimeS is the duration of one sweep leg (start→end or end→start).
// UpdateMs is how often a new frequency (and adaptive amplitude) is sent.
// Repeat keeps cycling until stopped or skipped.
type ModStep struct {
	StartHz         float64
	EndHz           float64
	TimeS           float64
	UpdateMs        float64
	Direction       Direction
	AdaptiveVoltage bool
	Repeat          bool
	Options         Options
	SourceLine      int
}

func (s ModStep) Kind() StepKind { return KindMod }
func (s ModStep) Line() int      { return s.SourceLine }

// CycleItem is either a literal frequency (CyclePoint) or a lazy inclusive
// range (CycleRange). Ranges are never materialized; they may span millions
// of points.
type CycleItem interface {
	isCycleItem()
}

// CyclePoint is a single literal frequency in a cycle list.
type CyclePoint float64

func (CyclePoint) isCycleItem() {}

// CycleRange is an inclusive arithmetic progression from StartHz to EndHz.
// StepHz's sign always matches the direction of travel.
type CycleRange struct {
	StartHz float64
	EndHz   float64
	StepHz  float64
}

func (CycleRange) isCycleItem() {}

// CycleStep iterates frequencies, holding each for OnWait and optionally
// pausing at PauseHz for OffWait between points. OffWait == nil (or <= 0)
// suppresses the pause hold entirely.
type CycleStep struct {
	Items           []CycleItem
	OnWait          float64
	OffWait         *float64
	PauseHz         float64
	AdaptiveVoltage bool
	Options         Options
	SourceLine      int
}

func (s CycleStep) Kind() StepKind { return KindCycle }
func (s CycleStep) Line() int      { return s.SourceLine }
