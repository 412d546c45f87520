package backend

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// flexNumber accepts a JSON number, a numeric string or null. The
// inventory feed sends counts and coordinates as strings.
type flexNumber struct {
	Value float64
	Valid bool
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*n = flexNumber{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = flexNumber{}
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			// unparsable or non-finite values normalize to missing
			*n = flexNumber{}
			return nil
		}
		*n = flexNumber{Value: f, Valid: true}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = flexNumber{Value: f, Valid: true}
	return nil
}

func (n flexNumber) Int() int {
	return int(n.Value)
}

// firstValid returns the first valid number.
func firstValid(ns ...flexNumber) flexNumber {
	for _, n := range ns {
		if n.Valid {
			return n
		}
	}
	return flexNumber{}
}

// flexString accepts a JSON string or number, used for ids that are
// sometimes numeric.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(string(data))
	return nil
}
