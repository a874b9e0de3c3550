package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Flex is a vendor field whose JSON type varies between endpoints. It keeps
// both the numeric and the textual reading so callers can choose.
type Flex struct {
	Num    float64
	Str    string
	HasNum bool
	HasStr bool
}

// UnmarshalJSON never fails: anything it cannot read is left empty.
func (f *Flex) UnmarshalJSON(data []byte) error {
	*f = Flex{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		*f = FlexString(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil
		}
		if b {
			*f = Flex{Num: 1, HasNum: true, Str: "true", HasStr: true}
		} else {
			*f = Flex{Num: 0, HasNum: true, Str: "false", HasStr: true}
		}
	default:
		n, err := strconv.ParseFloat(string(data), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
		*f = FlexNumber(n)
	}
	return nil
}

func (f Flex) MarshalJSON() ([]byte, error) {
	switch {
	case f.HasStr && !f.HasNum:
		return json.Marshal(f.Str)
	case f.HasNum:
		return json.Marshal(f.Num)
	default:
		return []byte("null"), nil
	}
}

// FlexNumber builds a Flex from a number.
func FlexNumber(n float64) Flex {
	return Flex{Num: n, HasNum: true, Str: strconv.FormatFloat(n, 'f', -1, 64), HasStr: true}
}

// FlexString builds a Flex from a string, recording a numeric reading when
// the text is a plain number.
func FlexString(s string) Flex {
	f := Flex{Str: s, HasStr: s != ""}
	t := strings.TrimSpace(s)
	if t == "" {
		return f
	}
	if n, err := strconv.ParseFloat(t, 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
		f.Num = n
		f.HasNum = true
	}
	return f
}

// Present reports whether the field carried any usable value.
func (f *Flex) Present() bool {
	return f != nil && (f.HasNum || f.HasStr)
}

// Float returns the numeric reading.
func (f *Flex) Float() (float64, bool) {
	if f == nil || !f.HasNum {
		return 0, false
	}
	return f.Num, true
}

// Text returns the textual reading.
func (f *Flex) Text() (string, bool) {
	if f == nil || !f.HasStr {
		return "", false
	}
	return f.Str, true
}

// Bool reads vendor truthiness: non-zero numbers and "true"/"yes"/"on".
func (f *Flex) Bool() (bool, bool) {
	if f == nil {
		return false, false
	}
	if f.HasNum {
		return f.Num != 0, true
	}
	if f.HasStr {
		switch strings.ToLower(strings.TrimSpace(f.Str)) {
		case "true", "yes", "y", "on":
			return true, true
		case "false", "no", "n", "off":
			return false, true
		}
	}
	return false, false
}

// FirstPresent returns the first field that carries any value.
func FirstPresent(fields ...*Flex) *Flex {
	for _, f := range fields {
		if f.Present() {
			return f
		}
	}
	return nil
}
