package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Filter constrains one metadata field.
//
// An exact filter matches documents whose field equals any of Values. A Like filter
// matches documents whose field contains any of Values as a substring.
// A filter with no values matches nothing.
type Filter struct {
	Values []string
	Like   bool
}

// Filters maps a metadata field name to its constraint. Entries are combined with AND.
type Filters map[string]Filter

// Eq returns an exact filter for a single value.
func Eq(value string) Filter {
	return Filter{Values: []string{value}}
}

// In returns an exact filter matching any of the values.
func In(values ...string) Filter {
	if values == nil {
		values = []string{}
	}
	return Filter{Values: values}
}

// Like returns a substring filter matching any of the values.
func Like(values ...string) Filter {
	if values == nil {
		values = []string{}
	}
	return Filter{Values: values, Like: true}
}

// ModifiedRange resolves an exact value of a filter on FieldModified to the
// half-open interval [from, to) it matches. A date without a time of day
// covers the whole day; a timestamp covers its second.
func ModifiedRange(value string) (from, to time.Time, err error) {
	t, err := cast.ToTimeE(value)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid %s value %q: %w", FieldModified, value, err)
	}
	if _, dateErr := time.Parse(time.DateOnly, value); dateErr == nil {
		return t, t.AddDate(0, 0, 1), nil
	}
	t = t.Truncate(time.Second)
	return t, t.Add(time.Second), nil
}

// CheckModifiedFilter reports whether f can be applied to FieldModified:
// only exact filters whose values parse as times.
func CheckModifiedFilter(f Filter) error {
	if f.Like {
		return errors.New("LIKE is not supported on " + FieldModified)
	}
	for _, v := range f.Values {
		if _, _, err := ModifiedRange(v); err != nil {
			return err
		}
	}
	return nil
}

// MatchesNothing reports whether the filter can never be satisfied.
func (f Filter) MatchesNothing() bool {
	return len(f.Values) == 0
}

// Intersect returns the values allowed by both exact filters, preserving the order of f.
func (f Filter) Intersect(other Filter) Filter {
	out := make([]string, 0, len(f.Values))
	for _, v := range f.Values {
		if slices.Contains(other.Values, v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return Filter{Values: out}
}

// MarshalJSON renders a single exact value as a scalar, several as an array,
// and like filters as {"like": [...]}.
func (f Filter) MarshalJSON() ([]byte, error) {
	switch {
	case f.Like:
		return json.Marshal(map[string][]string{"like": f.values()})
	case len(f.Values) == 1:
		return json.Marshal(f.Values[0])
	default:
		return json.Marshal(f.values())
	}
}

// UnmarshalJSON accepts a scalar, an array of scalars, or {"like": scalar|array}.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FilterFromValue(raw)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// UnmarshalYAML accepts the same shapes as UnmarshalJSON.
func (f *Filter) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FilterFromValue(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*f = parsed
	return nil
}

// FilterFromValue converts a decoded JSON/YAML value into a Filter.
func FilterFromValue(raw any) (Filter, error) {
	switch v := raw.(type) {
	case nil:
		return Filter{}, fmt.Errorf("filter value cannot be null")
	case []any:
		values, err := toStrings(v)
		if err != nil {
			return Filter{}, err
		}
		return In(values...), nil
	case map[string]any:
		like, ok := v["like"]
		if !ok || len(v) != 1 {
			return Filter{}, fmt.Errorf("object filters must have exactly one key \"like\"")
		}
		if list, isList := like.([]any); isList {
			values, err := toStrings(list)
			if err != nil {
				return Filter{}, err
			}
			return Like(values...), nil
		}
		s, err := cast.ToStringE(like)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid like value: %w", err)
		}
		return Like(s), nil
	default:
		s, err := cast.ToStringE(v)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid filter value: %w", err)
		}
		return Eq(s), nil
	}
}

func (f Filter) values() []string {
	if f.Values == nil {
		return []string{}
	}
	return f.Values
}

func toStrings(list []any) ([]string, error) {
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, err := cast.ToStringE(item)
		if err != nil {
			return nil, fmt.Errorf("invalid filter value: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
