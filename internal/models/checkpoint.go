package models

import (
	"encoding/json"
	"fmt"
)

// CheckpointVersion is the current checkpoint schema version.
const CheckpointVersion = 1

// WithinKind tags the mid-step progress variant of a checkpoint.
type WithinKind string

const (
	WithinWait      WithinKind = "wait"
	WithinCycle     WithinKind = "cycle"
	WithinCycleWait WithinKind = "cycle_wait"
	WithinMod       WithinKind = "mod"
)

// CyclePhase names which hold of a cycle point is in progress.
type CyclePhase string

const (
	PhaseOn  CyclePhase = "on"
	PhaseOff CyclePhase = "off"
)

// ModLeg names the half of a sweep cycle.
type ModLeg string

const (
	LegRise ModLeg = "rise"
	LegFall ModLeg = "fall"
)

// Within records progress inside a long-running step. Which fields are
// meaningful depends on Kind:
//
//	wait:        Remaining
//	cycle:       ItemIndex, SubK, SubN, FreqHz
//	cycle_wait:  ItemIndex, SubK, SubN, Phase, Remaining
//	mod:         Leg, K, Updates, FromHz, ToHz
type Within struct {
	Kind      WithinKind
	Remaining float64
	ItemIndex int
	SubK      int
	SubN      int
	FreqHz    float64
	Phase     CyclePhase
	Leg       ModLeg
	K         int
	Updates   int
	FromHz    float64
	ToHz      float64
}

// withinJSON is the flat wire shape; pointers keep fields that do not belong
// to the tagged variant out of the encoded object.
type withinJSON struct {
	Kind      WithinKind  `json:"kind"`
	Remaining *float64    `json:"remaining,omitempty"`
	ItemIndex *int        `json:"item_i,omitempty"`
	SubK      *int        `json:"sub_k,omitempty"`
	SubN      *int        `json:"sub_n,omitempty"`
	FreqHz    *float64    `json:"freq_hz,omitempty"`
	Phase     *CyclePhase `json:"phase,omitempty"`
	Leg       *ModLeg     `json:"leg,omitempty"`
	K         *int        `json:"k,omitempty"`
	Updates   *int        `json:"updates,omitempty"`
	FromHz    *float64    `json:"from_hz,omitempty"`
	ToHz      *float64    `json:"to_hz,omitempty"`
}

func (w Within) MarshalJSON() ([]byte, error) {
	out := withinJSON{Kind: w.Kind}
	switch w.Kind {
	case WithinWait:
		out.Remaining = &w.Remaining
	case WithinCycle:
		out.ItemIndex, out.SubK, out.SubN = &w.ItemIndex, &w.SubK, &w.SubN
		out.FreqHz = &w.FreqHz
	case WithinCycleWait:
		out.ItemIndex, out.SubK, out.SubN = &w.ItemIndex, &w.SubK, &w.SubN
		out.Phase = &w.Phase
		out.Remaining = &w.Remaining
	case WithinMod:
		out.Leg = &w.Leg
		out.K, out.Updates = &w.K, &w.Updates
		out.FromHz, out.ToHz = &w.FromHz, &w.ToHz
	default:
		return nil, fmt.Errorf("unknown within kind %q", w.Kind)
	}
	return json.Marshal(out)
}

func (w *Within) UnmarshalJSON(data []byte) error {
	var in withinJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*w = Within{Kind: in.Kind}
	if in.Remaining != nil {
		w.Remaining = *in.Remaining
	}
	if in.ItemIndex != nil {
		w.ItemIndex = *in.ItemIndex
	}
	if in.SubK != nil {
		w.SubK = *in.SubK
	}
	if in.SubN != nil {
		w.SubN = *in.SubN
	}
	if in.FreqHz != nil {
		w.FreqHz = *in.FreqHz
	}
	if in.Phase != nil {
		w.Phase = *in.Phase
	}
	if in.Leg != nil {
		w.Leg = *in.Leg
	}
	if in.K != nil {
		w.K = *in.K
	}
	if in.Updates != nil {
		w.Updates = *in.Updates
	}
	if in.FromHz != nil {
		w.FromHz = *in.FromHz
	}
	if in.ToHz != nil {
		w.ToHz = *in.ToHz
	}
	return nil
}

// Checkpoint is a serializable progress marker. It is meaningful only when
// paired with the exact step sequence it was produced from; the resume store
// validates the source file hash before handing one back.
type Checkpoint struct {
	Version    int      `json:"version"`
	StepIndex  int      `json:"step_index"`
	StepKind   StepKind `json:"step_kind"`
	SourceLine int      `json:"source_line"`
	Within     *Within  `json:"within,omitempty"`
}

// Clone returns a deep copy safe to hand across goroutines.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	if c.Within != nil {
		w := *c.Within
		out.Within = &w
	}
	return &out
}
