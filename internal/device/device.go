// Package device abstracts the JDS6600 function generator. The execution
// engine talks only to the Device interface; concrete backends register
// themselves by name so the CLI can select one with a flag.
package device

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Device is the capability surface the engine drives. Channel numbers are
// 1-based. SetOption covers the long tail of generator settings (waveform,
// offset, dutycycle, phase, ...) dispatched by option key name.
type Device interface {
	Connect() error
	Close() error
	SetFrequency(channel int, hz float64) error
	SetAmplitude(channel int, volts float64) error
	SetOption(channel int, name string, value any) error
	SetChannels(ch1, ch2 bool) error
}

// StateReader is the optional read side. Callers poll it with a try-acquire
// discipline; ErrBusy means the handle is in use and the tick should be
// skipped, not queued.
type StateReader interface {
	TryReadState() (State, error)
}

// ErrBusy is returned by TryReadState when the device handle is currently
// driven by the engine.
var ErrBusy = fmt.Errorf("device busy")

// ConnectError marks a failure to open or connect a backend. The CLI maps
// it to a distinct exit code.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return "device: " + e.Err.Error() }
func (e *ConnectError) Unwrap() error { return e.Err }

// ChannelState is one output channel snapshot. Pointer fields are nil when
// the corresponding getter is unsupported or failed.
type ChannelState struct {
	On      *bool
	Wave    string
	FreqHz  *float64
	AmplV   *float64
	OffsV   *float64
	DutyPct *float64
}

// State is a two-channel snapshot.
type State struct {
	CH1 ChannelState
	CH2 ChannelState
}

func fmtHz(v *float64) string {
	if v == nil {
		return "n/a"
	}
	f := *v
	if math.Abs(f-math.Round(f)) < 1e-9 {
		return strconv.FormatInt(int64(math.Round(f)), 10) + "Hz"
	}
	s := strconv.FormatFloat(f, 'f', 3, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	return s + "Hz"
}

func fmtV(v *float64, decimals int) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', decimals, 64) + "v"
}

func fmtPct(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + "%"
}

func fmtChannel(label string, s ChannelState) string {
	on := "n/a"
	if s.On != nil {
		if *s.On {
			on = "on"
		} else {
			on = "off"
		}
	}
	wave := s.Wave
	if wave == "" {
		wave = "unknown"
	}
	return fmt.Sprintf("%s=%s, wave: %s, freq: %s, ampl:%s, offs: %s, duty: %s",
		label, on, wave, fmtHz(s.FreqHz), fmtV(s.AmplV, 1), fmtV(s.OffsV, 2), fmtPct(s.DutyPct))
}

// Format renders the snapshot as a one-line status string.
func (s State) Format() string {
	return fmtChannel("CH1", s.CH1) + ";  " + fmtChannel("CH2", s.CH2)
}

// ResolveChannels maps the loose "channel" option value onto the 1-based
// channel list it addresses. Accepted forms: 1, 2, "1", "ch1", "channel2",
// "both", "all", "12", "1+2", or a list of those. Anything unrecognized
// (including absence) means both channels.
func ResolveChannels(sel any) []int {
	both := []int{1, 2}
	switch v := sel.(type) {
	case nil:
		return both
	case int:
		return resolveChannelToken(strconv.Itoa(v))
	case float64:
		return resolveChannelToken(strconv.FormatFloat(v, 'f', -1, 64))
	case string:
		return resolveChannelToken(v)
	case []any:
		set := map[int]bool{}
		for _, item := range v {
			for _, ch := range ResolveChannels(item) {
				set[ch] = true
			}
		}
		out := make([]int, 0, len(set))
		for ch := range set {
			out = append(out, ch)
		}
		sort.Ints(out)
		if len(out) == 0 {
			return both
		}
		return out
	}
	return both
}

func resolveChannelToken(s string) []int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "ch1", "channel1", "channel 1":
		return []int{1}
	case "2", "ch2", "channel2", "channel 2":
		return []int{2}
	}
	return []int{1, 2}
}

// Factory opens a backend against a port (or address; the sim ignores it).
type Factory func(port string) (Device, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register installs a backend under name. Later registrations win, which
// lets tests shadow the built-ins.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// Open constructs the named backend. Known names are listed in the error.
func Open(name, port string) (Device, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(name)]
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	registryMu.RUnlock()

	if !ok {
		sort.Strings(names)
		return nil, fmt.Errorf("unknown device backend %q (available: %s)", name, strings.Join(names, ", "))
	}
	return f(port)
}
