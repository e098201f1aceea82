package program

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JcJet/jds6600-controller/internal/models"
	"github.com/JcJet/jds6600-controller/internal/script"
)

func TestIsProgram(t *testing.T) {
	t.Parallel()

	assert.True(t, IsProgram("sweep.lua"))
	assert.True(t, IsProgram("/some/dir/gen.lua"))
	assert.False(t, IsProgram("commands.txt"))
	assert.False(t, IsProgram("commands.csv"))
}

func TestExecute_EmitsCommandLines(t *testing.T) {
	t.Parallel()

	src := `
function program()
  freq(1000)
  wait(5)
  freq(2000, {waveform = "square"})
  stop()
end
`
	out, err := NewRuntime().Execute(src)
	require.NoError(t, err)
	assert.Equal(t, "freq,1000\nwait,5\nfreq,2000,{\"waveform\":\"square\"}\nstop", out)
}

func TestExecute_FreqList(t *testing.T) {
	t.Parallel()

	src := `
function program()
  freq({100, 200, 300})
end
`
	out, err := NewRuntime().Execute(src)
	require.NoError(t, err)
	assert.Equal(t, "freq,[100,200,300]", out)
}

func TestExecute_GeneratedLoop(t *testing.T) {
	t.Parallel()

	src := `
function program()
  for hz = 100, 300, 100 do
    freq(hz)
    wait(1)
  end
end
`
	out, err := NewRuntime().Execute(src)
	require.NoError(t, err)
	assert.Equal(t, "freq,100\nwait,1\nfreq,200\nwait,1\nfreq,300\nwait,1", out)
}

func TestExecute_CycleWithRange(t *testing.T) {
	t.Parallel()

	src := `
function program()
  cycle({55000, {start = 100, end_ = 1000, step = 100}}, {on = 2})
end
`
	out, err := NewRuntime().Execute(src)
	require.NoError(t, err)
	assert.Equal(t, `cycle,[55000,{"end":1000,"start":100,"step":100}],on=2`, out)
}

func TestExecute_ModParamsAreSorted(t *testing.T) {
	t.Parallel()

	src := `
function program()
  mod({start = 100, end_ = 200, time = 2, direction = "rise"})
end
`
	out, err := NewRuntime().Execute(src)
	require.NoError(t, err)
	assert.Equal(t, "mod,direction=rise,end=200,start=100,time=2", out)
}

func TestExecute_RawAndLog(t *testing.T) {
	t.Parallel()

	src := `
function program()
  log("generating")
  raw("freq,440")
end
`
	rt := NewRuntime()
	out, err := rt.Execute(src)
	require.NoError(t, err)
	assert.Equal(t, "freq,440", out)
	assert.Equal(t, []string{"generating"}, rt.Logs())
}

func TestExecute_OutputCompiles(t *testing.T) {
	t.Parallel()

	src := `
function program()
  freq(1000, {channel = 1})
  wait(2)
  cycle({{start = 55000, end_ = 200000, step = 0.1}}, {on = 2})
  mod({start = 100, end_ = 200, time = 2, direction = "rise"})
  stop()
end
`
	out, err := NewRuntime().Execute(src)
	require.NoError(t, err)

	steps, err := script.Compile(out)
	require.NoError(t, err)
	require.Len(t, steps, 5)
	assert.Equal(t, models.KindFreq, steps[0].Kind())
	assert.Equal(t, models.KindWait, steps[1].Kind())
	assert.Equal(t, models.KindCycle, steps[2].Kind())
	assert.Equal(t, models.KindMod, steps[3].Kind())
	assert.Equal(t, models.KindStop, steps[4].Kind())

	cyc, ok := steps[2].(models.CycleStep)
	require.True(t, ok)
	require.Len(t, cyc.Items, 1)
	rng, ok := cyc.Items[0].(models.CycleRange)
	require.True(t, ok)
	assert.Equal(t, 55000.0, rng.StartHz)
	assert.Equal(t, 200000.0, rng.EndHz)
}

func TestExecute_RequiresProgramFunction(t *testing.T) {
	t.Parallel()

	_, err := NewRuntime().Execute(`x = 1`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "program")
}

func TestExecute_ScriptErrorsAreReported(t *testing.T) {
	t.Parallel()

	src := `
function program()
  freq("not a number")
end
`
	_, err := NewRuntime().Execute(src)
	require.Error(t, err)
}

func TestExecute_SandboxBlocksFileAccess(t *testing.T) {
	t.Parallel()

	src := `
function program()
  if loadfile ~= nil or dofile ~= nil or load ~= nil then
    error("filesystem escape available")
  end
  freq(1)
end
`
	_, err := NewRuntime().Execute(src)
	require.NoError(t, err)
}

func TestExecuteFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gen.lua")
	require.NoError(t, os.WriteFile(path, []byte("function program()\n  freq(123)\nend\n"), 0o644))

	out, err := NewRuntime().ExecuteFile(path)
	require.NoError(t, err)
	assert.Equal(t, "freq,123", out)

	_, err = NewRuntime().ExecuteFile(filepath.Join(t.TempDir(), "missing.lua"))
	require.Error(t, err)
}
