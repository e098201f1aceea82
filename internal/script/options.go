package script

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/JcJet/jds6600-controller/internal/models"
)

// Tolerant option parsing. Strict JSON is always tried first; each repair is
// a pure text transform followed by another strict attempt, in a fixed order,
// so the tolerance rules stay auditable.
var (
	reTrailingComma = regexp.MustCompile(`,\s*([}\]])`)
	reBareKey       = regexp.MustCompile(`([,{]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	reBareValue     = regexp.MustCompile(`:\s*([A-Za-z_][A-Za-z0-9_+-]*)(\s*[,}])`)
)

func stripTrailingCommas(s string) string {
	return reTrailingComma.ReplaceAllString(s, "$1")
}

func quoteBareKeys(s string) string {
	return reBareKey.ReplaceAllString(s, `$1"$2":`)
}

func quoteBareValues(s string) string {
	return reBareValue.ReplaceAllStringFunc(s, func(m string) string {
		sub := reBareValue.FindStringSubmatch(m)
		val, tail := sub[1], sub[2]
		if val == "true" || val == "false" || val == "null" {
			return ": " + val + tail
		}
		if _, err := strconv.ParseFloat(val, 64); err == nil {
			return ": " + val + tail
		}
		return `: "` + val + `"` + tail
	})
}

func tryObject(s string) (models.Options, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return models.Options(obj), nil
}

var errNotObject = &ParseError{Msg: "options must be a JSON object"}

// ParseOptions parses a free-form options fragment into a mapping. Optional
// "json:" / "py:" prefixes are stripped. On failure the error names the
// original unrepaired text.
func ParseOptions(raw string, line int) (models.Options, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Options{}, nil
	}

	if len(raw) >= 5 && strings.EqualFold(raw[:5], "json:") {
		raw = strings.TrimSpace(raw[5:])
	}
	if len(raw) >= 3 && strings.EqualFold(raw[:3], "py:") {
		raw = strings.TrimSpace(raw[3:])
	}

	cur := raw
	if opts, err := tryObject(cur); err == nil {
		return opts, nil
	}

	cur = stripTrailingCommas(cur)
	if opts, err := tryObject(cur); err == nil {
		return opts, nil
	}

	cur = quoteBareKeys(cur)
	if opts, err := tryObject(cur); err == nil {
		return opts, nil
	}

	cur = quoteBareValues(cur)
	opts, err := tryObject(cur)
	if err == nil {
		return opts, nil
	}

	return nil, &ParseError{
		Line: line,
		Raw:  raw,
		Msg:  "invalid JSON options: " + err.Error() +
			". Hint: JSON requires double quotes and no trailing comma. Options seen: '" + raw + "'",
	}
}
