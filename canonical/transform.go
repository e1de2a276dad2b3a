package canonical

import (
	"encoding/json"
	"fmt"
)

// CustomTransformFunc is the extension point for "custom" mappings. The host
// registers one function that receives the mapping and the external value.
type CustomTransformFunc func(m *Mapping, v Value) (Value, error)

// transformEnv carries the configuration a transformation may consult.
type transformEnv struct {
	standardHours float64
	custom        CustomTransformFunc
}

type transformFunc func(v Value, m *Mapping, env transformEnv) (Value, error)

// transforms is the dispatch table over the closed TransformKind set.
// ParseTransformKind guarantees every persisted mapping has an entry here.
var transforms = map[TransformKind]transformFunc{
	TransformDirect:  transformDirect,
	TransformSum:     transformSum,
	TransformAverage: transformAverage,
	TransformLookup:  transformLookup,
	TransformFTE:     transformFTE,
	TransformCustom:  transformCustom,
}

// applyTransform runs the mapping's transformation over the external value.
func applyTransform(v Value, m *Mapping, env transformEnv) (Value, error) {
	fn, ok := transforms[m.Transform]
	if !ok {
		// Unreachable for mappings registered through the service; guards
		// against rows written directly to the store.
		return Null, fmt.Errorf("canonical: mapping %s: unknown transformation kind %q", m.ID, m.Transform)
	}
	return fn(v, m, env)
}

func transformDirect(v Value, _ *Mapping, _ transformEnv) (Value, error) {
	return v, nil
}

// numericElements extracts the numeric members of an array value.
// Non-numeric elements are ignored, not errors.
func numericElements(v Value) ([]float64, bool) {
	arr, ok := v.AsArray()
	if !ok {
		return nil, false
	}
	nums := make([]float64, 0, len(arr))
	for _, el := range arr {
		if f, isNum := el.AsNumber(); isNum {
			nums = append(nums, f)
		}
	}
	return nums, true
}

func transformSum(v Value, m *Mapping, _ transformEnv) (Value, error) {
	if f, ok := v.AsNumber(); ok {
		return Number(f), nil
	}
	nums, ok := numericElements(v)
	if !ok {
		return Null, fmt.Errorf("canonical: sum: field %q is %s, want array or number", m.ExternalField, v.Kind())
	}
	var total float64
	for _, f := range nums {
		total += f
	}
	return Number(total), nil
}

func transformAverage(v Value, m *Mapping, _ transformEnv) (Value, error) {
	if f, ok := v.AsNumber(); ok {
		return Number(f), nil
	}
	nums, ok := numericElements(v)
	if !ok {
		return Null, fmt.Errorf("canonical: average: field %q is %s, want array or number", m.ExternalField, v.Kind())
	}
	if len(nums) == 0 {
		return Number(0), nil
	}
	var total float64
	for _, f := range nums {
		total += f
	}
	return Number(total / float64(len(nums))), nil
}

// transformLookup substitutes the value through a JSON table in the mapping
// parameters: {"table": {"A": "Active", ...}}. A missing key or a malformed
// table falls back to the original value rather than failing the record.
func transformLookup(v Value, m *Mapping, _ transformEnv) (Value, error) {
	var params struct {
		Table map[string]json.RawMessage `json:"table"`
	}
	if err := json.Unmarshal(m.Params, &params); err != nil || params.Table == nil {
		return v, nil
	}

	raw, ok := params.Table[v.Text()]
	if !ok {
		return v, nil
	}

	var out Value
	if err := json.Unmarshal(raw, &out); err != nil {
		return v, nil
	}
	return out, nil
}

// transformFTE divides a numeric value by the standard working hours,
// turning contracted hours into a full-time-equivalent fraction. The
// mapping may override the divisor via {"standard_hours": N}.
func transformFTE(v Value, m *Mapping, env transformEnv) (Value, error) {
	f, ok := v.AsNumber()
	if !ok {
		return Null, fmt.Errorf("canonical: fte: field %q is %s, want number", m.ExternalField, v.Kind())
	}

	hours := env.standardHours
	if len(m.Params) > 0 {
		var params struct {
			StandardHours float64 `json:"standard_hours"`
		}
		if err := json.Unmarshal(m.Params, &params); err == nil && params.StandardHours > 0 {
			hours = params.StandardHours
		}
	}
	if hours <= 0 {
		hours = DefaultStandardHours
	}

	return Number(f / hours), nil
}

func transformCustom(v Value, m *Mapping, env transformEnv) (Value, error) {
	if env.custom == nil {
		return v, nil
	}
	return env.custom(m, v)
}
