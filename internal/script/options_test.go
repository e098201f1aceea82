package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions_StrictJSON(t *testing.T) {
	t.Parallel()

	opts, err := ParseOptions(`{"channel": 1, "waveform": "square"}`, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(1), opts["channel"])
	assert.Equal(t, "square", opts["waveform"])
}

func TestParseOptions_Empty(t *testing.T) {
	t.Parallel()

	opts, err := ParseOptions("", 1)
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestParseOptions_Prefixes(t *testing.T) {
	t.Parallel()

	opts, err := ParseOptions(`json: {"channel": 2}`, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(2), opts["channel"])

	opts, err = ParseOptions(`py: {"channel": 2}`, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(2), opts["channel"])
}

func TestParseOptions_TrailingComma(t *testing.T) {
	t.Parallel()

	opts, err := ParseOptions(`{"channel": 1,}`, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(1), opts["channel"])
}

func TestParseOptions_BareKeys(t *testing.T) {
	t.Parallel()

	opts, err := ParseOptions(`{channel: 1, waveform: "sine"}`, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(1), opts["channel"])
	assert.Equal(t, "sine", opts["waveform"])
}

func TestParseOptions_BareValues(t *testing.T) {
	t.Parallel()

	opts, err := ParseOptions(`{waveform: square, channel: 1}`, 1)
	require.NoError(t, err)
	assert.Equal(t, "square", opts["waveform"])
	assert.Equal(t, float64(1), opts["channel"])
}

func TestParseOptions_BareBooleansStayBoolean(t *testing.T) {
	t.Parallel()

	opts, err := ParseOptions(`{adaptive: true, repeat: false}`, 1)
	require.NoError(t, err)
	assert.Equal(t, true, opts["adaptive"])
	assert.Equal(t, false, opts["repeat"])
}

func TestParseOptions_InvalidCarriesLineAndRaw(t *testing.T) {
	t.Parallel()

	_, err := ParseOptions(`{"channel": }`, 7)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 7, perr.Line)
	assert.Contains(t, perr.Raw, `{"channel": }`)
}

func TestParseOptions_RejectsNonObject(t *testing.T) {
	t.Parallel()

	_, err := ParseOptions(`[1,2,3]`, 1)
	assert.Error(t, err)
}
