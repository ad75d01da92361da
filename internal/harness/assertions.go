package harness

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/grimoire/internal/doc"
)

// AssertionError describes a failed assertion or expectation.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// checkExpect returns a message for every mismatch between res and expect.
// A nil expect requires success.
func checkExpect(res StepResult, expect *ExpectClause) []string {
	if expect == nil {
		expect = &ExpectClause{}
	}
	if res.Error != expect.Error {
		want := expect.Error
		if want == "" {
			want = "success"
		}
		got := res.Error
		if got == "" {
			got = "success"
		} else {
			got += " (" + res.Message + ")"
		}
		return []string{(&AssertionError{Type: "outcome", Expected: want, Actual: got}).Error()}
	}
	if expect.Result == nil {
		return nil
	}
	want, err := toGeneric(expect.Result)
	if err != nil {
		return []string{err.Error()}
	}
	var msgs []string
	matchSubset("result", res.Result, want, &msgs)
	return msgs
}

// matchSubset compares expected against actual. Objects match when every
// expected key matches; arrays in actual may be addressed by index keys.
func matchSubset(path string, actual, expected any, msgs *[]string) {
	want, ok := expected.(map[string]any)
	if !ok {
		if !reflect.DeepEqual(actual, expected) {
			*msgs = append(*msgs, (&AssertionError{
				Type:     path,
				Expected: fmt.Sprintf("%v", expected),
				Actual:   fmt.Sprintf("%v", actual),
			}).Error())
		}
		return
	}
	for _, key := range sortedKeys(want) {
		sub := path + "." + key
		switch got := actual.(type) {
		case map[string]any:
			v, present := got[key]
			if !present {
				*msgs = append(*msgs, (&AssertionError{Type: sub, Expected: "present", Actual: "missing"}).Error())
				continue
			}
			matchSubset(sub, v, want[key], msgs)
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(got) {
				*msgs = append(*msgs, (&AssertionError{Type: sub, Expected: "index in range", Actual: fmt.Sprintf("length %d", len(got))}).Error())
				continue
			}
			matchSubset(sub, got[i], want[key], msgs)
		default:
			*msgs = append(*msgs, (&AssertionError{Type: path, Expected: "object or array", Actual: fmt.Sprintf("%v", actual)}).Error())
			return
		}
	}
}

// EvaluateAssertions checks the final state and returns one message per
// failed assertion.
func EvaluateAssertions(state map[string][]doc.Object, assertions []Assertion) []string {
	var msgs []string
	for i, a := range assertions {
		if err := evaluate(state[a.Collection], a); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d] %s %s: %v", i, a.Type, a.Collection, err))
		}
	}
	return msgs
}

func evaluate(docs []doc.Object, a Assertion) error {
	ids := make([]string, 0, len(docs))
	byID := make(map[string]doc.Object, len(docs))
	for _, d := range docs {
		id, _ := d.GetString(doc.FieldID)
		ids = append(ids, id)
		byID[id] = d
	}

	switch a.Type {
	case AssertCount:
		if len(docs) != a.Count {
			return &AssertionError{Type: a.Type, Expected: strconv.Itoa(a.Count), Actual: strconv.Itoa(len(docs))}
		}
	case AssertIDs:
		want := slices.Clone(a.IDs)
		slices.Sort(want)
		if !slices.Equal(ids, want) {
			return &AssertionError{Type: a.Type, Expected: strings.Join(want, ","), Actual: strings.Join(ids, ",")}
		}
	case AssertDocument:
		d, ok := byID[a.ID]
		if !ok {
			return &AssertionError{Type: a.Type, Expected: a.ID, Actual: "missing"}
		}
		if a.Expect == nil {
			return nil
		}
		got, err := toGeneric(d)
		if err != nil {
			return err
		}
		want, err := toGeneric(a.Expect)
		if err != nil {
			return err
		}
		var msgs []string
		matchSubset(a.ID, got, want, &msgs)
		if len(msgs) > 0 {
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
	case AssertAbsent:
		if _, ok := byID[a.ID]; ok {
			return &AssertionError{Type: a.Type, Expected: "no " + a.ID, Actual: "present"}
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
