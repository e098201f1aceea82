package device

import (
	"fmt"
	"sync"
)

func init() {
	Register("sim", func(port string) (Device, error) {
		return NewSim(), nil
	})
}

// Sim is an in-memory generator. It records every setter call in order,
// which is what the engine tests assert against, and backs dry runs.
type Sim struct {
	mu       sync.Mutex
	ops      []string
	channels [2]ChannelState
	closed   bool
}

func NewSim() *Sim {
	s := &Sim{}
	for i := range s.channels {
		off := false
		s.channels[i].On = &off
		s.channels[i].Wave = "sine"
	}
	return s
}

func (s *Sim) Connect() error { return nil }

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Sim) record(op string) { s.ops = append(s.ops, op) }

func (s *Sim) chState(channel int) (*ChannelState, error) {
	if channel < 1 || channel > 2 {
		return nil, fmt.Errorf("channel %d out of range", channel)
	}
	return &s.channels[channel-1], nil
}

func (s *Sim) SetFrequency(channel int, hz float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.chState(channel)
	if err != nil {
		return err
	}
	st.FreqHz = &hz
	s.record(fmt.Sprintf("set_frequency ch%d %g", channel, hz))
	return nil
}

func (s *Sim) SetAmplitude(channel int, volts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.chState(channel)
	if err != nil {
		return err
	}
	st.AmplV = &volts
	s.record(fmt.Sprintf("set_amplitude ch%d %g", channel, volts))
	return nil
}

func (s *Sim) SetOption(channel int, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.chState(channel)
	if err != nil {
		return err
	}
	switch name {
	case "waveform", "wave":
		st.Wave = fmt.Sprintf("%v", value)
	case "offset":
		if f, ok := value.(float64); ok {
			st.OffsV = &f
		}
	case "dutycycle", "duty":
		if f, ok := value.(float64); ok {
			st.DutyPct = &f
		}
	}
	s.record(fmt.Sprintf("set_%s ch%d %v", name, channel, value))
	return nil
}

func (s *Sim) SetChannels(ch1, ch2 bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	on1, on2 := ch1, ch2
	s.channels[0].On = &on1
	s.channels[1].On = &on2
	s.record(fmt.Sprintf("set_channels %t %t", ch1, ch2))
	return nil
}

// TryReadState snapshots both channels without blocking. Returns ErrBusy
// when a setter currently holds the lock.
func (s *Sim) TryReadState() (State, error) {
	if !s.mu.TryLock() {
		return State{}, ErrBusy
	}
	defer s.mu.Unlock()
	return State{CH1: cloneChannel(s.channels[0]), CH2: cloneChannel(s.channels[1])}, nil
}

func cloneChannel(c ChannelState) ChannelState {
	out := ChannelState{Wave: c.Wave}
	if c.On != nil {
		v := *c.On
		out.On = &v
	}
	if c.FreqHz != nil {
		v := *c.FreqHz
		out.FreqHz = &v
	}
	if c.AmplV != nil {
		v := *c.AmplV
		out.AmplV = &v
	}
	if c.OffsV != nil {
		v := *c.OffsV
		out.OffsV = &v
	}
	if c.DutyPct != nil {
		v := *c.DutyPct
		out.DutyPct = &v
	}
	return out
}

// Ops returns a copy of the recorded setter calls.
func (s *Sim) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ops))
	copy(out, s.ops)
	return out
}

// Closed reports whether Close was called.
func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
