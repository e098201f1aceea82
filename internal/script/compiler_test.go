package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JcJet/jds6600-controller/internal/models"
)

func TestCompile_SingleFreqRow(t *testing.T) {
	t.Parallel()

	steps, err := Compile("freq,1000")
	require.NoError(t, err)
	require.Len(t, steps, 1)

	fs, ok := steps[0].(models.FreqStep)
	require.True(t, ok)
	assert.Equal(t, 1000.0, fs.Hz)
	assert.Equal(t, 1, fs.SourceLine)
}

func TestCompile_FreqRowWhitespace(t *testing.T) {
	t.Parallel()

	steps, err := Compile("  freq ,  1500.5  ")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 1500.5, steps[0].(models.FreqStep).Hz)
}

func TestCompile_Aliases(t *testing.T) {
	t.Parallel()

	steps, err := Compile("f,100\nfrequency,200\nsleep,1\ndelay,2\noff\ndisable")
	require.NoError(t, err)
	require.Len(t, steps, 6)
	assert.Equal(t, models.KindFreq, steps[0].Kind())
	assert.Equal(t, models.KindFreq, steps[1].Kind())
	assert.Equal(t, models.KindWait, steps[2].Kind())
	assert.Equal(t, models.KindWait, steps[3].Kind())
	assert.Equal(t, models.KindStop, steps[4].Kind())
	assert.Equal(t, models.KindStop, steps[5].Kind())
}

func TestCompile_CommentsAndBlankLines(t *testing.T) {
	t.Parallel()

	steps, err := Compile("# header\n\nfreq,1000\n   \n# trailing comment\nstop")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 3, steps[0].Line())
	assert.Equal(t, 6, steps[1].Line())
}

func TestCompile_FourStepScenario(t *testing.T) {
	t.Parallel()

	steps, err := Compile("freq,1000\nwait,2\nfreq,0\nwait,1")
	require.NoError(t, err)
	require.Len(t, steps, 4)

	assert.Equal(t, 1000.0, steps[0].(models.FreqStep).Hz)
	assert.Equal(t, 2.0, steps[1].(models.WaitStep).Seconds)
	assert.Equal(t, 0.0, steps[2].(models.FreqStep).Hz)
	assert.Equal(t, 1.0, steps[3].(models.WaitStep).Seconds)
}

func TestCompile_LegacyExpansion(t *testing.T) {
	t.Parallel()

	steps, err := Compile("freq,[1000,2000],{\"channel\":1}\nwait,1")
	require.NoError(t, err)
	require.Len(t, steps, 4)

	f0 := steps[0].(models.FreqStep)
	assert.Equal(t, 1000.0, f0.Hz)
	assert.Equal(t, float64(1), f0.Options["channel"])
	assert.Equal(t, 1.0, steps[1].(models.WaitStep).Seconds)

	f2 := steps[2].(models.FreqStep)
	assert.Equal(t, 2000.0, f2.Hz)
	assert.Equal(t, float64(1), f2.Options["channel"])
	assert.Equal(t, 1.0, steps[3].(models.WaitStep).Seconds)
}

func TestCompile_LegacyExpansionPulseTemplate(t *testing.T) {
	t.Parallel()

	// list + on-wait + freq,0 + off-wait replays all four rows per frequency
	steps, err := Compile("freq,[100,200]\nwait,5\nfreq,0\nwait,10")
	require.NoError(t, err)
	require.Len(t, steps, 8)

	assert.Equal(t, 100.0, steps[0].(models.FreqStep).Hz)
	assert.Equal(t, 5.0, steps[1].(models.WaitStep).Seconds)
	assert.Equal(t, 0.0, steps[2].(models.FreqStep).Hz)
	assert.Equal(t, 10.0, steps[3].(models.WaitStep).Seconds)
	assert.Equal(t, 200.0, steps[4].(models.FreqStep).Hz)
	assert.Equal(t, 5.0, steps[5].(models.WaitStep).Seconds)
	assert.Equal(t, 0.0, steps[6].(models.FreqStep).Hz)
	assert.Equal(t, 10.0, steps[7].(models.WaitStep).Seconds)
}

func TestCompile_LegacyExpansionLeavesTrailingRows(t *testing.T) {
	t.Parallel()

	steps, err := Compile("freq,[100,200]\nwait,1\nstop")
	require.NoError(t, err)
	require.Len(t, steps, 5)
	assert.Equal(t, models.KindStop, steps[4].Kind())
}

func TestExpandSteps_FlatSequenceIsNoOp(t *testing.T) {
	t.Parallel()

	flat := []rawStep{
		models.FreqStep{Hz: 1000, SourceLine: 1},
		models.WaitStep{Seconds: 2, SourceLine: 2},
		models.StopStep{SourceLine: 3},
	}
	out := expandSteps(flat)
	require.Len(t, out, 3)
	for i, s := range out {
		assert.Equal(t, flat[i], rawStep(s))
	}
}

func TestCompile_DelimiterSniffing(t *testing.T) {
	t.Parallel()

	t.Run("semicolon", func(t *testing.T) {
		steps, err := Compile("freq;1000\nwait;2")
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, 1000.0, steps[0].(models.FreqStep).Hz)
	})

	t.Run("tab", func(t *testing.T) {
		steps, err := Compile("freq\t1000\nwait\t2")
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, 1000.0, steps[0].(models.FreqStep).Hz)
	})
}

func TestCompile_BracketedListSplitByDelimiter(t *testing.T) {
	t.Parallel()

	// The comma delimiter splits the list into separate cells; the compiler
	// must rejoin them.
	steps, err := Compile("freq,[1000,2000,3000]")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, 1000.0, steps[0].(models.FreqStep).Hz)
	assert.Equal(t, 2000.0, steps[1].(models.FreqStep).Hz)
	assert.Equal(t, 3000.0, steps[2].(models.FreqStep).Hz)
}

func TestCompile_UnknownCommand(t *testing.T) {
	t.Parallel()

	_, err := Compile("freq,1000\nbogus,1")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Line)
	assert.Contains(t, err.Error(), "line 2")
}

func TestCompile_WaitRequiresNumber(t *testing.T) {
	t.Parallel()

	_, err := Compile("wait,abc")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Line)
}

func TestCompile_CycleKeyValueParams(t *testing.T) {
	t.Parallel()

	steps, err := Compile("cycle,[1000,2000],on=5,off=10,pause_hz=50,adaptive-voltage=true")
	require.NoError(t, err)
	require.Len(t, steps, 1)

	cs := steps[0].(models.CycleStep)
	require.Len(t, cs.Items, 2)
	assert.Equal(t, 5.0, cs.OnWait)
	require.NotNil(t, cs.OffWait)
	assert.Equal(t, 10.0, *cs.OffWait)
	assert.Equal(t, 50.0, cs.PauseHz)
	assert.True(t, cs.AdaptiveVoltage)
}

func TestCompile_CyclePositionalParams(t *testing.T) {
	t.Parallel()

	steps, err := Compile("cycle,[1000],5,10")
	require.NoError(t, err)

	cs := steps[0].(models.CycleStep)
	assert.Equal(t, 5.0, cs.OnWait)
	require.NotNil(t, cs.OffWait)
	assert.Equal(t, 10.0, *cs.OffWait)
}

func TestCompile_CycleRangeObject(t *testing.T) {
	t.Parallel()

	steps, err := Compile(`cycle,[30000,{"start":55000,"end":200000,"step":0.1},1000000],on=1`)
	require.NoError(t, err)

	cs := steps[0].(models.CycleStep)
	require.Len(t, cs.Items, 3)
	assert.Equal(t, models.CyclePoint(30000), cs.Items[0])
	rng := cs.Items[1].(models.CycleRange)
	assert.Equal(t, 55000.0, rng.StartHz)
	assert.Equal(t, 200000.0, rng.EndHz)
	assert.Equal(t, 0.1, rng.StepHz)
	assert.Equal(t, models.CyclePoint(1000000), cs.Items[2])
}

func TestCompile_CycleRangeStepSignFollowsDirection(t *testing.T) {
	t.Parallel()

	steps, err := Compile(`cycle,[{"start":2000,"end":1000,"step":10}]`)
	require.NoError(t, err)

	rng := steps[0].(models.CycleStep).Items[0].(models.CycleRange)
	assert.Equal(t, -10.0, rng.StepHz)
}

func TestCompile_CycleRangeCollapsesToPoint(t *testing.T) {
	t.Parallel()

	steps, err := Compile(`cycle,[{"start":500,"end":500}]`)
	require.NoError(t, err)
	assert.Equal(t, models.CyclePoint(500), steps[0].(models.CycleStep).Items[0])
}

func TestCompile_CycleRangeRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	_, err := Compile(`cycle,[{"start":1,"end":2,"increment":3}]`)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Elem)
	assert.Contains(t, err.Error(), "increment")
}

func TestCompile_CycleRangeRejectsZeroStep(t *testing.T) {
	t.Parallel()

	_, err := Compile(`cycle,[{"start":1,"end":2,"step":0}]`)
	require.Error(t, err)
}

func TestCompile_CycleRangeElementPosition(t *testing.T) {
	t.Parallel()

	_, err := Compile(`cycle,[1000,{"start":1}]`)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Elem)
}

func TestCompile_CycleWithOptionsTail(t *testing.T) {
	t.Parallel()

	steps, err := Compile(`cycle,[1000],on=1,{"waveform":"square"}`)
	require.NoError(t, err)

	cs := steps[0].(models.CycleStep)
	assert.Equal(t, "square", cs.Options["waveform"])
}

func TestCompile_ModDefaults(t *testing.T) {
	t.Parallel()

	steps, err := Compile("mod")
	require.NoError(t, err)

	ms := steps[0].(models.ModStep)
	assert.Equal(t, 1.0, ms.StartHz)
	assert.Equal(t, 1_000_000.0, ms.EndHz)
	assert.Equal(t, 1.0, ms.TimeS)
	assert.Equal(t, 50.0, ms.UpdateMs)
	assert.Equal(t, models.DirRiseAndFall, ms.Direction)
	assert.False(t, ms.AdaptiveVoltage)
	assert.True(t, ms.Repeat)
}

func TestCompile_ModPositional(t *testing.T) {
	t.Parallel()

	steps, err := Compile("mod,100,200,2,rise")
	require.NoError(t, err)

	ms := steps[0].(models.ModStep)
	assert.Equal(t, 100.0, ms.StartHz)
	assert.Equal(t, 200.0, ms.EndHz)
	assert.Equal(t, 2.0, ms.TimeS)
	assert.Equal(t, models.DirRise, ms.Direction)
	assert.Equal(t, 50.0, ms.UpdateMs)
	assert.False(t, ms.AdaptiveVoltage)
	// repeat stays at its default even with positional direction/time given
	assert.True(t, ms.Repeat)
}

func TestCompile_ModKeyValue(t *testing.T) {
	t.Parallel()

	steps, err := Compile("mod,start=10,end=20,time_ms=1500,update=25,direction=fall,repeat=no")
	require.NoError(t, err)

	ms := steps[0].(models.ModStep)
	assert.Equal(t, 10.0, ms.StartHz)
	assert.Equal(t, 20.0, ms.EndHz)
	assert.Equal(t, 1.5, ms.TimeS)
	assert.Equal(t, 25.0, ms.UpdateMs)
	assert.Equal(t, models.DirFall, ms.Direction)
	assert.False(t, ms.Repeat)
}

func TestCompile_ModDirectionSynonyms(t *testing.T) {
	t.Parallel()

	cases := map[string]models.Direction{
		"up":          models.DirRise,
		"increase":    models.DirRise,
		"down":        models.DirFall,
		"dec":         models.DirFall,
		"rise-fall":   models.DirRiseAndFall,
		"up_down":     models.DirRiseAndFall,
		"riseandfall": models.DirRiseAndFall,
	}
	for in, want := range cases {
		steps, err := Compile("mod,direction=" + in)
		require.NoError(t, err, in)
		assert.Equal(t, want, steps[0].(models.ModStep).Direction, in)
	}
}

func TestCompile_ModValidation(t *testing.T) {
	t.Parallel()

	for _, src := range []string{
		"mod,start=-1",
		"mod,time=0",
		"mod,update=0",
		"mod,direction=sideways",
	} {
		_, err := Compile(src)
		assert.Error(t, err, src)
	}
}

func TestCompile_ModWithOptions(t *testing.T) {
	t.Parallel()

	steps, err := Compile(`mod,start=10,{"channel":2}`)
	require.NoError(t, err)
	assert.Equal(t, float64(2), steps[0].(models.ModStep).Options["channel"])
}

func TestCompile_EmptyInput(t *testing.T) {
	t.Parallel()

	steps, err := Compile("")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestNormalizeDirection(t *testing.T) {
	t.Parallel()

	d, err := normalizeDirection("Rise And Fall")
	require.NoError(t, err)
	assert.Equal(t, models.DirRiseAndFall, d)

	_, err = normalizeDirection("backwards")
	assert.Error(t, err)
}

func TestParseBool(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"1", "true", "YES", "y", "On"} {
		v, err := parseBool(s)
		require.NoError(t, err, s)
		assert.True(t, v, s)
	}
	for _, s := range []string{"0", "false", "No", "n", "OFF"} {
		v, err := parseBool(s)
		require.NoError(t, err, s)
		assert.False(t, v, s)
	}
	_, err := parseBool("maybe")
	assert.Error(t, err)
}
