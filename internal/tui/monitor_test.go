package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JcJet/jds6600-controller/internal/models"
	"github.com/JcJet/jds6600-controller/internal/runner"
)

func TestMonitor_ProgressAndDone(t *testing.T) {
	t.Parallel()

	m := NewMonitor(runner.NewState(), 3)

	model, _ := m.Update(progressMsg{index: 1, total: 3, remaining: 42, step: models.WaitStep{Seconds: 42}})
	m = model.(*Monitor)
	assert.Equal(t, 1, m.index)
	assert.Contains(t, m.View(), "Step 2/3")
	assert.Contains(t, m.View(), "wait 42s")

	model, cmd := m.Update(DoneMsg{Result: runner.ResultStopped})
	m = model.(*Monitor)
	require.NotNil(t, cmd)
	res, err := m.Result()
	assert.Equal(t, runner.ResultStopped, res)
	assert.NoError(t, err)
	assert.Empty(t, m.View())
}

func TestMonitor_KeysDriveState(t *testing.T) {
	t.Parallel()

	state := runner.NewState()
	m := NewMonitor(state, 1)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	assert.True(t, state.Paused())
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	assert.False(t, state.Paused())

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	assert.True(t, state.Stopped())
}

func TestMonitor_QuitInterruptsWithoutStop(t *testing.T) {
	t.Parallel()

	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
	} {
		state := runner.NewState()
		state.Pause()
		m := NewMonitor(state, 1)

		interrupted := false
		m.SetInterrupt(func() { interrupted = true })
		m.Update(key)

		assert.True(t, interrupted, key.String())
		assert.False(t, state.Stopped(), key.String())
		assert.False(t, state.Paused(), key.String())
	}
}

func TestMonitor_ObserverDropsWhenFull(t *testing.T) {
	t.Parallel()

	m := NewMonitor(runner.NewState(), 1)
	obs := m.Observer()
	// the buffered channel absorbs eventBuffer messages and drops the rest
	for range eventBuffer * 2 {
		obs.OnStatus("tick")
	}
	assert.Len(t, m.events, eventBuffer)
}

func TestDescribeWithin(t *testing.T) {
	t.Parallel()

	assert.Empty(t, describeWithin(nil))
	assert.Empty(t, describeWithin(&models.Checkpoint{}))

	cp := &models.Checkpoint{Within: &models.Within{
		Kind: models.WithinCycleWait, SubK: 2, SubN: 10, Phase: models.PhaseOn, Remaining: 1.5,
	}}
	assert.Equal(t, "cycle point 3/10, on hold, 1.5s left", describeWithin(cp))

	cp = &models.Checkpoint{Within: &models.Within{
		Kind: models.WithinMod, Leg: models.LegFall, K: 7, Updates: 40, FromHz: 200, ToHz: 100,
	}}
	assert.Equal(t, "sweep fall 7/40 (200..100 Hz)", describeWithin(cp))
}
