package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// MustJSON marshals v or panics; for building expected values in tests
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// JSONAssertOptions controls how JSON documents are compared
type JSONAssertOptions struct {
	IgnoreExtraKeys  bool     `default:"true"`
	IgnoreArrayOrder bool     `default:"false"`
	IgnoredFields    []string `default:""`
}

// JSONOption is a functional option for configuring JSONAsserter
type JSONOption func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally with gojsondiff
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options
func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the JSONAsserter
func (ja *JSONAsserter) WithOptions(opts ...JSONOption) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	if d := ja.Diff(actualJSON, expectedJSON); d != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", d)
		return false
	}
	return true
}

// Diff returns a readable diff of the two documents, or "" when they match
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	if _, ok := expected.([]interface{}); ok {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	for _, f := range ja.options.IgnoredFields {
		dropField(expected, f)
		dropField(actual, f)
	}
	if ja.options.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	var left map[string]interface{}
	_ = json.Unmarshal(expectedBytes, &left)
	out, _ := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(diff)
	return out
}

// pruneExtraKeys removes keys from actual that expected does not mention
func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, keep := exp[k]; !keep {
				delete(act, k)
			}
		}
		for k, v := range exp {
			pruneExtraKeys(act[k], v)
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := 0; i < len(exp) && i < len(act); i++ {
			pruneExtraKeys(act[i], exp[i])
		}
	}
}

func dropField(v interface{}, field string) {
	switch t := v.(type) {
	case map[string]interface{}:
		delete(t, field)
		for _, child := range t {
			dropField(child, field)
		}
	case []interface{}:
		for _, child := range t {
			dropField(child, field)
		}
	}
}

// sortArrays orders every array by the JSON encoding of its elements
func sortArrays(v interface{}) {
	switch t := v.(type) {
	case map[string]interface{}:
		for _, child := range t {
			sortArrays(child)
		}
	case []interface{}:
		for _, child := range t {
			sortArrays(child)
		}
		sort.SliceStable(t, func(i, j int) bool {
			return MustJSON(t[i]) < MustJSON(t[j])
		})
	}
}

// WithIgnoreExtraKeys sets whether keys absent from the expected document are ignored
func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

// WithIgnoreArrayOrder sets whether arrays compare as multisets
func WithIgnoreArrayOrder(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreArrayOrder = ignore }
}

// WithIgnoredFields drops the named keys at any depth before comparing
func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}
