package runner

import (
	"math"
	"strconv"

	"github.com/JcJet/jds6600-controller/internal/models"
)

// Observer is the optional callback surface for run progress. Every field
// may be nil. Callbacks run on the engine goroutine; panics inside them are
// swallowed so a misbehaving display can never abort device control.
type Observer struct {
	OnStatus      func(text string)
	OnProgress    func(index, total int, remainingSeconds float64, step models.Step)
	OnDeviceState func(text string)
	OnCheckpoint  func(cp *models.Checkpoint)
}

func (o Observer) status(text string) {
	if o.OnStatus == nil {
		return
	}
	defer func() { _ = recover() }()
	o.OnStatus(text)
}

func (o Observer) progress(index, total int, remaining float64, step models.Step) {
	if o.OnProgress == nil {
		return
	}
	defer func() { _ = recover() }()
	o.OnProgress(index, total, remaining, step)
}

func (o Observer) deviceState(text string) {
	if o.OnDeviceState == nil {
		return
	}
	defer func() { _ = recover() }()
	o.OnDeviceState(text)
}

func (o Observer) checkpoint(cp *models.Checkpoint) {
	if o.OnCheckpoint == nil {
		return
	}
	defer func() { _ = recover() }()
	o.OnCheckpoint(cp)
}

// FormatSeconds renders a duration for status lines: "12.3s", "4m 5s",
// "2h 13m", or the infinity sign for unbounded estimates.
func FormatSeconds(sec float64) string {
	if math.IsInf(sec, 1) || math.IsNaN(sec) {
		return "∞"
	}
	if sec < 0 {
		sec = 0
	}
	if sec < 60 {
		return strconv.FormatFloat(sec, 'f', 1, 64) + "s"
	}
	m := int(sec / 60)
	s := sec - float64(m)*60
	if m < 60 {
		return strconv.Itoa(m) + "m " + strconv.FormatFloat(s, 'f', 0, 64) + "s"
	}
	h := m / 60
	return strconv.Itoa(h) + "h " + strconv.Itoa(m-h*60) + "m"
}
