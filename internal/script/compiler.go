package script

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/JcJet/jds6600-controller/internal/models"
)

// Command aliases, matched case-insensitively against the first cell.
var (
	waitAliases  = map[string]bool{"wait": true, "sleep": true, "delay": true}
	stopAliases  = map[string]bool{"stop": true, "off": true, "disable": true}
	freqAliases  = map[string]bool{"freq": true, "frequency": true, "f": true}
	cycleAliases = map[string]bool{"cycle": true, "loop": true}
	modAliases   = map[string]bool{"mod": true, "modulate": true, "sweep": true}
)

// rawFreqList is an intermediate record for freq,[...] rows. It may combine
// with following rows under the legacy convention, so it only becomes final
// steps during expansion.
type rawFreqList struct {
	freqs      []float64
	options    models.Options
	sourceLine int
}

// rawStep is either a models.Step or a rawFreqList.
type rawStep any

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

func toFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean '%s' (use true/false)", s)
}

func normalizeDirection(s string) (models.Direction, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "_", "-")
	v = strings.ReplaceAll(v, " ", "-")
	switch v {
	case "rise", "up", "inc", "increase":
		return models.DirRise, nil
	case "fall", "down", "dec", "decrease":
		return models.DirFall, nil
	case "rise-and-fall", "rise-fall", "up-down", "up-and-down", "riseandfall":
		return models.DirRiseAndFall, nil
	}
	return "", fmt.Errorf("invalid direction '%s'. Use: rise, fall, rise-and-fall", s)
}

func looksLikeList(s string) bool {
	st := strings.TrimSpace(s)
	return strings.HasPrefix(st, "[") && strings.HasSuffix(st, "]")
}

func looksLikeOptions(s string) bool {
	st := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(st, "{") || strings.HasPrefix(st, "json:") || strings.HasPrefix(st, "py:")
}

// consumeBracketedToken re-joins cells starting at start until a [...] token
// is bracket-balanced. Needed when the record delimiter also appears inside
// the list, e.g. "freq,[1000,2000,3000]" splits into four cells.
// Returns the token and the index of the first cell after it.
func consumeBracketedToken(cells []string, start int, delim string) (string, int) {
	if start >= len(cells) {
		return "", start
	}
	first := strings.TrimSpace(cells[start])
	if !strings.HasPrefix(first, "[") {
		return first, start + 1
	}

	var parts []string
	balance := 0
	i := start
	for i < len(cells) {
		p := strings.TrimSpace(cells[i])
		parts = append(parts, p)
		balance += strings.Count(p, "[") - strings.Count(p, "]")
		if balance <= 0 {
			i++
			break
		}
		i++
	}
	return strings.Join(parts, delim), i
}

// sniffDelimiter inspects up to the first 25 non-empty lines and picks the
// candidate delimiter appearing on the most lines (total count breaks ties).
func sniffDelimiter(lines []string) string {
	sample := make([]string, 0, 25)
	for _, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		sample = append(sample, ln)
		if len(sample) == 25 {
			break
		}
	}

	best := ","
	bestLines, bestTotal := -1, -1
	for _, cand := range []string{",", ";", "\t"} {
		onLines, total := 0, 0
		for _, ln := range sample {
			if n := strings.Count(ln, cand); n > 0 {
				onLines++
				total += n
			}
		}
		if onLines > bestLines || (onLines == bestLines && total > bestTotal) {
			best, bestLines, bestTotal = cand, onLines, total
		}
	}
	return best
}

func splitRow(line, delim string) []string {
	cells := strings.Split(line, delim)
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func joinTail(cells []string, from int, delim string) string {
	if from >= len(cells) {
		return ""
	}
	return strings.Join(cells[from:], delim)
}

// CompileFile reads path and compiles it.
func CompileFile(path string) ([]models.Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read command file: %w", err)
	}
	return Compile(string(data))
}

// Compile parses the full command text into an ordered, fully expanded step
// sequence. Errors are *ParseError values tagged with the 1-based line.
//
// Supported commands (case-insensitive, aliases in parentheses):
//
//	freq,<hz or [list]>,<options>      (frequency, f)
//	wait,<seconds>                     (sleep, delay)
//	stop                               (off, disable)
//	cycle,<[list]>,<params>,<options>  (loop)
//	mod,<params>,<options>             (modulate, sweep)
func Compile(text string) ([]models.Step, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	delim := sniffDelimiter(lines)

	var raw []rawStep
	for i, line := range lines {
		idx := i + 1
		cells := splitRow(line, delim)
		if len(cells) == 0 || cells[0] == "" || strings.HasPrefix(cells[0], "#") {
			continue
		}

		cmd := strings.ToLower(cells[0])
		switch {
		case waitAliases[cmd]:
			if len(cells) < 2 || !isNumber(cells[1]) {
				return nil, parseErrf(idx, "wait expects seconds as number")
			}
			raw = append(raw, models.WaitStep{Seconds: toFloat(cells[1]), SourceLine: idx})

		case stopAliases[cmd]:
			raw = append(raw, models.StopStep{SourceLine: idx})

		case freqAliases[cmd]:
			step, err := parseFreqRow(cells, idx, delim)
			if err != nil {
				return nil, err
			}
			raw = append(raw, step)

		case cycleAliases[cmd]:
			step, err := parseCycleRow(cells, idx, delim)
			if err != nil {
				return nil, err
			}
			raw = append(raw, step)

		case modAliases[cmd]:
			step, err := parseModRow(cells, idx, delim)
			if err != nil {
				return nil, err
			}
			raw = append(raw, step)

		default:
			return nil, parseErrf(idx, "unknown command '%s'. Use 'freq', 'wait', 'stop', 'cycle' or 'mod'", cells[0])
		}
	}

	return expandSteps(raw), nil
}

func parseFreqRow(cells []string, idx int, delim string) (rawStep, error) {
	if len(cells) < 2 {
		return nil, parseErrf(idx, "freq expects <Hz> or <[list]> as second column")
	}
	token, next := consumeBracketedToken(cells, 1, delim)
	token = strings.TrimSpace(token)

	opts := models.Options{}
	if tail := joinTail(cells, next, delim); strings.TrimSpace(tail) != "" {
		var err error
		opts, err = ParseOptions(tail, idx)
		if err != nil {
			return nil, err
		}
	}

	if looksLikeList(token) {
		freqs, err := parseNumberList(token, idx)
		if err != nil {
			return nil, err
		}
		return rawFreqList{freqs: freqs, options: opts, sourceLine: idx}, nil
	}
	if !isNumber(token) {
		return nil, parseErrf(idx, "freq expects a number (Hz) or list like [1000,2000]")
	}
	return models.FreqStep{Hz: toFloat(token), Options: opts, SourceLine: idx}, nil
}

func parseCycleRow(cells []string, idx int, delim string) (rawStep, error) {
	if len(cells) < 2 {
		return nil, parseErrf(idx, "cycle expects a list, e.g. cycle,[1000,2000,3000],on=5,off=10")
	}
	token, next := consumeBracketedToken(cells, 1, delim)
	token = strings.TrimSpace(token)
	if !looksLikeList(token) {
		return nil, parseErrf(idx, "cycle expects a frequency list like [1000,2000,3000]")
	}
	items, err := parseCycleItems(token, idx)
	if err != nil {
		return nil, err
	}

	var onWait, offWait *float64
	pauseHz := 0.0
	adaptive := false

	j := next
loop:
	for j < len(cells) {
		cell := cells[j]
		if cell == "" {
			j++
			continue
		}
		if looksLikeOptions(cell) {
			break
		}

		if k, v, ok := strings.Cut(cell, "="); ok {
			key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), "_", "-")
			v = strings.TrimSpace(v)

			switch key {
			case "adaptive-voltage", "adaptive", "adaptivevoltage":
				b, err := parseBool(v)
				if err != nil {
					return nil, parseErrf(idx, "%s", err.Error())
				}
				adaptive = b
				j++
				continue
			}

			if !isNumber(v) {
				return nil, parseErrf(idx, "cycle parameter '%s' must be a number", key)
			}
			fv := toFloat(v)
			switch key {
			case "on", "wait", "hold", "on-wait", "onwait":
				onWait = &fv
			case "off", "pause", "off-wait", "offwait", "pause-wait", "pausewait":
				offWait = &fv
			case "pause-hz", "pause-freq", "off-hz", "off-freq":
				pauseHz = fv
			default:
				return nil, parseErrf(idx, "unknown cycle parameter '%s'. Use on=, off=, pause_hz=, adaptive-voltage=true", key)
			}
			j++
			continue
		}

		if isNumber(cell) {
			fv := toFloat(cell)
			switch {
			case onWait == nil:
				onWait = &fv
			case offWait == nil:
				offWait = &fv
			default:
				return nil, parseErrf(idx, "too many numeric args for cycle. Use cycle,[...],on,off")
			}
			j++
			continue
		}

		// Unknown token: treat as the start of an options tail.
		break loop
	}

	opts := models.Options{}
	if tail := joinTail(cells, j, delim); strings.TrimSpace(tail) != "" {
		opts, err = ParseOptions(tail, idx)
		if err != nil {
			return nil, err
		}
	}

	on := 0.0
	if onWait != nil {
		on = *onWait
	}
	return models.CycleStep{
		Items:           items,
		OnWait:          on,
		OffWait:         offWait,
		PauseHz:         pauseHz,
		AdaptiveVoltage: adaptive,
		Options:         opts,
		SourceLine:      idx,
	}, nil
}

func parseModRow(cells []string, idx int, delim string) (rawStep, error) {
	var startHz, endHz, timeS, updateMs *float64
	var direction *models.Direction
	var adaptive, repeat *bool

	setNum := func(dst **float64, v, what string) error {
		if !isNumber(v) {
			return parseErrf(idx, "mod parameter must be a number (%s)", what)
		}
		fv := toFloat(v)
		*dst = &fv
		return nil
	}

	j := 1
	var positional []string
	for j < len(cells) {
		cell := cells[j]
		if cell == "" {
			j++
			continue
		}
		if looksLikeOptions(cell) {
			break
		}

		if k, v, ok := strings.Cut(cell, "="); ok {
			key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), "_", "-")
			v = strings.TrimSpace(v)
			var err error
			switch key {
			case "start", "from", "start-hz", "f-start":
				err = setNum(&startHz, v, "Hz")
			case "end", "to", "end-hz", "f-end":
				err = setNum(&endHz, v, "Hz")
			case "time", "time-s", "s", "sec", "secs", "second", "seconds", "cycle", "cycle-s", "duration", "duration-s":
				err = setNum(&timeS, v, "seconds")
			case "time-ms", "ms", "cycle-ms", "duration-ms":
				if err = setNum(&timeS, v, "milliseconds"); err == nil {
					*timeS /= 1000.0
				}
			case "update", "update-ms", "interval", "interval-ms", "tick", "tick-ms", "step", "step-ms":
				err = setNum(&updateMs, v, "milliseconds")
			case "direction", "dir":
				var d models.Direction
				if d, err = normalizeDirection(v); err == nil {
					direction = &d
				} else {
					err = parseErrf(idx, "%s", err.Error())
				}
			case "adaptive-voltage", "adaptive", "adaptivevoltage":
				var b bool
				if b, err = parseBool(v); err == nil {
					adaptive = &b
				} else {
					err = parseErrf(idx, "%s", err.Error())
				}
			case "repeat", "loop":
				var b bool
				if b, err = parseBool(v); err == nil {
					repeat = &b
				} else {
					err = parseErrf(idx, "%s", err.Error())
				}
			default:
				err = parseErrf(idx, "unknown mod parameter '%s'. Use start=, end=, time= (seconds), update= (ms), direction=, adaptive-voltage=, repeat=", key)
			}
			if err != nil {
				return nil, err
			}
			j++
			continue
		}

		positional = append(positional, cell)
		j++
	}

	// Positional order: start, end, time(s), direction, adaptive-voltage, repeat, update(ms).
	if len(positional) > 7 {
		return nil, parseErrf(idx, "too many positional args for mod. Use mod,start,end,time_seconds,direction,adaptive-voltage,repeat,update_ms")
	}
	for p, cell := range positional {
		switch p {
		case 0, 1, 2, 6:
			if !isNumber(cell) {
				what := [...]string{"start", "end", "time", "", "", "", "update interval"}[p]
				return nil, parseErrf(idx, "mod %s must be a number", what)
			}
			fv := toFloat(cell)
			switch p {
			case 0:
				startHz = &fv
			case 1:
				endHz = &fv
			case 2:
				timeS = &fv
			case 6:
				updateMs = &fv
			}
		case 3:
			d, err := normalizeDirection(cell)
			if err != nil {
				return nil, parseErrf(idx, "%s", err.Error())
			}
			direction = &d
		case 4, 5:
			b, err := parseBool(cell)
			if err != nil {
				return nil, parseErrf(idx, "%s", err.Error())
			}
			if p == 4 {
				adaptive = &b
			} else {
				repeat = &b
			}
		}
	}

	step := models.ModStep{
		StartHz:         1.0,
		EndHz:           1_000_000.0,
		TimeS:           1.0,
		UpdateMs:        50.0,
		Direction:       models.DirRiseAndFall,
		AdaptiveVoltage: false,
		Repeat:          true,
		SourceLine:      idx,
	}
	if startHz != nil {
		step.StartHz = *startHz
	}
	if endHz != nil {
		step.EndHz = *endHz
	}
	if timeS != nil {
		step.TimeS = *timeS
	}
	if updateMs != nil {
		step.UpdateMs = *updateMs
	}
	if direction != nil {
		step.Direction = *direction
	}
	if adaptive != nil {
		step.AdaptiveVoltage = *adaptive
	}
	if repeat != nil {
		step.Repeat = *repeat
	}

	if step.StartHz < 0 || step.EndHz < 0 {
		return nil, parseErrf(idx, "mod start/end must be >= 0")
	}
	if step.TimeS <= 0 {
		return nil, parseErrf(idx, "mod time must be > 0 (seconds)")
	}
	if step.UpdateMs <= 0 {
		return nil, parseErrf(idx, "mod update interval must be > 0 (milliseconds)")
	}

	opts := models.Options{}
	if tail := joinTail(cells, j, delim); strings.TrimSpace(tail) != "" {
		var err error
		opts, err = ParseOptions(tail, idx)
		if err != nil {
			return nil, err
		}
	}
	step.Options = opts

	return step, nil
}

// expandSteps flattens rawFreqList records via the legacy convention:
// freq,[list] followed by an optional wait, an optional freq,0, and an
// optional wait replays that template once per listed frequency, in row
// order. Already-flat steps pass through unchanged.
func expandSteps(raw []rawStep) []models.Step {
	var out []models.Step
	i, n := 0, len(raw)

	for i < n {
		fl, ok := raw[i].(rawFreqList)
		if !ok {
			out = append(out, raw[i].(models.Step))
			i++
			continue
		}

		j := i + 1
		var onWait *models.WaitStep
		if j < n {
			if w, ok := raw[j].(models.WaitStep); ok {
				onWait = &w
				j++
			}
		}

		var pauseFreq *models.FreqStep
		var offWait *models.WaitStep
		if j < n {
			if f, ok := raw[j].(models.FreqStep); ok && f.Hz == 0.0 {
				pauseFreq = &f
				j++
				if j < n {
					if w, ok := raw[j].(models.WaitStep); ok {
						offWait = &w
						j++
					}
				}
			}
		}

		for _, f := range fl.freqs {
			out = append(out, models.FreqStep{Hz: f, Options: fl.options, SourceLine: fl.sourceLine})
			if onWait != nil {
				out = append(out, *onWait)
			}
			if pauseFreq != nil {
				out = append(out, *pauseFreq)
				if offWait != nil {
					out = append(out, *offWait)
				}
			}
		}
		i = j
	}

	return out
}

func parseNumberList(token string, line int) ([]float64, error) {
	var v any
	if err := jsonUnmarshalRepaired(token, &v); err != nil {
		return nil, parseErrf(line, "invalid list syntax for frequencies: %s", err.Error())
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, parseErrf(line, "frequency list must be like [1000,2000,3000]")
	}
	out := make([]float64, 0, len(arr))
	for _, x := range arr {
		f, ok := numeric(x)
		if !ok {
			return nil, parseErrf(line, "list element '%v' is not a number", x)
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, parseErrf(line, "frequency list is empty")
	}
	return out, nil
}

func parseCycleItems(token string, line int) ([]models.CycleItem, error) {
	var v any
	if err := jsonUnmarshalRepaired(token, &v); err != nil {
		return nil, parseErrf(line,
			`can't parse cycle frequency list. Use a list like [30000, 44000, {"start":55000,"end":200000,"step":0.1}, 1000000]. Details: %s`,
			err.Error())
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, parseErrf(line,
			`cycle list must be like [1000,2000,3000] or include ranges like {"start":55000,"end":200000,"step":0.1}`)
	}

	var items []models.CycleItem
	for i, x := range arr {
		pos := i + 1

		if f, ok := numeric(x); ok {
			if !isFinite(f) {
				return nil, elemErrf(line, pos, "frequency must be a finite number")
			}
			items = append(items, models.CyclePoint(f))
			continue
		}

		obj, ok := x.(map[string]any)
		if !ok {
			return nil, elemErrf(line, pos,
				`must be either a number (Hz) or a range object. Example: [30000, 44000, {"start":55000,"end":200000,"step":0.1}, 1000000]`)
		}

		for k := range obj {
			if k != "start" && k != "end" && k != "step" {
				return nil, elemErrf(line, pos,
					`unknown field '%s'. Allowed: start, end, step. Example: {"start":55000,"end":200000,"step":0.1}`, k)
			}
		}
		if _, ok := obj["start"]; !ok {
			return nil, elemErrf(line, pos, `range must contain 'start' and 'end'. Example: {"start":55000,"end":200000,"step":0.1}`)
		}
		if _, ok := obj["end"]; !ok {
			return nil, elemErrf(line, pos, `range must contain 'start' and 'end'. Example: {"start":55000,"end":200000,"step":0.1}`)
		}

		start, ok1 := numeric(obj["start"])
		end, ok2 := numeric(obj["end"])
		if !ok1 || !ok2 {
			return nil, elemErrf(line, pos, "range start/end must be numbers")
		}
		if !isFinite(start) || !isFinite(end) {
			return nil, elemErrf(line, pos, "range start/end must be finite numbers")
		}

		step := 1.0
		if sv, present := obj["step"]; present {
			step, ok = numeric(sv)
			if !ok {
				return nil, elemErrf(line, pos, "range step must be a number")
			}
			if !isFinite(step) {
				return nil, elemErrf(line, pos, "range step must be a finite number")
			}
		}
		if step == 0 {
			return nil, elemErrf(line, pos, "range step must not be 0")
		}

		if start == end {
			items = append(items, models.CyclePoint(start))
			continue
		}
		step = math.Abs(step)
		if end < start {
			step = -step
		}
		items = append(items, models.CycleRange{StartHz: start, EndHz: end, StepHz: step})
	}

	if len(items) == 0 {
		return nil, parseErrf(line, "cycle list is empty")
	}
	return items, nil
}

// jsonUnmarshalRepaired runs the same strict-then-repair pipeline the option
// parser uses, against an arbitrary JSON value.
func jsonUnmarshalRepaired(s string, v any) error {
	cur := strings.TrimSpace(s)
	if err := json.Unmarshal([]byte(cur), v); err == nil {
		return nil
	}
	cur = stripTrailingCommas(cur)
	if err := json.Unmarshal([]byte(cur), v); err == nil {
		return nil
	}
	cur = quoteBareKeys(cur)
	if err := json.Unmarshal([]byte(cur), v); err == nil {
		return nil
	}
	cur = quoteBareValues(cur)
	return json.Unmarshal([]byte(cur), v)
}

func numeric(x any) (float64, bool) {
	switch t := x.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}
