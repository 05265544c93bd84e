// Package params defines parameter schemas and bindings for parametric
// programs. A Schema declares what a program accepts; a Binding supplies one
// concrete value per declared name.
package params

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/chazu/partsmith/pkg/caderr"
)

// Kind is the type of a parameter.
type Kind int

const (
	Number Kind = iota
	Boolean
)

func (k Kind) String() string {
	switch k {
	case Number:
		return "number"
	case Boolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// ParseKind accepts the names used by templates and the generation service.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "number", "float", "int", "integer":
		return Number, nil
	case "boolean", "bool":
		return Boolean, nil
	}
	return 0, fmt.Errorf("unknown parameter kind %q", s)
}

// Value is a concrete parameter value.
type Value struct {
	Kind Kind
	Num  float64
	Bool bool
}

// Num returns a number value.
func Num(f float64) Value { return Value{Kind: Number, Num: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: Boolean, Bool: b} }

func (v Value) String() string {
	if v.Kind == Boolean {
		return fmt.Sprintf("%t", v.Bool)
	}
	return fmt.Sprintf("%g", v.Num)
}

// MarshalJSON encodes the value as a bare JSON number or boolean.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == Boolean {
		return json.Marshal(v.Bool)
	}
	return json.Marshal(v.Num)
}

// UnmarshalJSON decodes a bare JSON number or boolean.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case float64:
		*v = Num(x)
	case bool:
		*v = Bool(x)
	default:
		return fmt.Errorf("parameter value must be a number or boolean, got %s", string(data))
	}
	return nil
}

// Definition declares one parameter.
type Definition struct {
	Name    string   `json:"name"`
	Kind    Kind     `json:"-"`
	Default Value    `json:"default"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Step    *float64 `json:"step,omitempty"`
	Label   string   `json:"label,omitempty"`
}

type definitionJSON struct {
	Name    string   `json:"name"`
	Type    string   `json:"type,omitempty"`
	Kind    string   `json:"kind,omitempty"`
	Default *Value   `json:"default"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Step    *float64 `json:"step,omitempty"`
	Label   string   `json:"label,omitempty"`
}

// MarshalJSON writes the definition in the generation service's format.
func (d Definition) MarshalJSON() ([]byte, error) {
	def := d.Default
	return json.Marshal(definitionJSON{
		Name:    d.Name,
		Type:    d.Kind.String(),
		Default: &def,
		Min:     d.Min,
		Max:     d.Max,
		Step:    d.Step,
		Label:   d.Label,
	})
}

// UnmarshalJSON reads a definition. "kind" is accepted as an alias of "type";
// when neither is present the kind is inferred from the default.
func (d *Definition) UnmarshalJSON(data []byte) error {
	var raw definitionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Default == nil {
		return fmt.Errorf("parameter %q: missing default", raw.Name)
	}
	kindName := raw.Type
	if kindName == "" {
		kindName = raw.Kind
	}
	kind := raw.Default.Kind
	if kindName != "" {
		k, err := ParseKind(kindName)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", raw.Name, err)
		}
		kind = k
	}
	*d = Definition{
		Name:    raw.Name,
		Kind:    kind,
		Default: *raw.Default,
		Min:     raw.Min,
		Max:     raw.Max,
		Step:    raw.Step,
		Label:   raw.Label,
	}
	return nil
}

// Validate checks the definition's own invariants.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return caderr.New(caderr.InvalidParameter, "parameter name must not be empty")
	}
	if d.Default.Kind != d.Kind {
		return caderr.New(caderr.InvalidParameter, "parameter %q: default is %s, declared %s", d.Name, d.Default.Kind, d.Kind)
	}
	if d.Kind == Boolean {
		return nil
	}
	if math.IsNaN(d.Default.Num) || math.IsInf(d.Default.Num, 0) {
		return caderr.New(caderr.InvalidParameter, "parameter %q: default must be finite", d.Name)
	}
	if d.Min != nil && d.Max != nil && *d.Min > *d.Max {
		return caderr.New(caderr.InvalidParameter, "parameter %q: min %g > max %g", d.Name, *d.Min, *d.Max)
	}
	if err := d.checkRange(d.Default.Num); err != nil {
		return err
	}
	if d.Step != nil && *d.Step <= 0 {
		return caderr.New(caderr.InvalidParameter, "parameter %q: step must be > 0, got %g", d.Name, *d.Step)
	}
	return nil
}

func (d Definition) checkRange(f float64) error {
	if d.Min != nil && f < *d.Min {
		return caderr.New(caderr.InvalidParameter, "parameter %q: %g is below min %g", d.Name, f, *d.Min)
	}
	if d.Max != nil && f > *d.Max {
		return caderr.New(caderr.InvalidParameter, "parameter %q: %g is above max %g", d.Name, f, *d.Max)
	}
	return nil
}

// Schema is an ordered list of parameter definitions.
type Schema []Definition

// Validate checks every definition and name uniqueness.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, d := range s {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.Name] {
			return caderr.New(caderr.InvalidParameter, "duplicate parameter %q", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// Lookup returns the definition with the given name.
func (s Schema) Lookup(name string) (Definition, bool) {
	for _, d := range s {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Defaults returns a binding holding every default value.
func (s Schema) Defaults() Binding {
	b := make(Binding, len(s))
	for _, d := range s {
		b[d.Name] = d.Default
	}
	return b
}

// Resolve returns a complete binding for the schema: values from b where
// present, defaults otherwise. Values of the wrong kind, numbers outside the
// declared bounds, and names the schema does not declare are rejected.
func (s Schema) Resolve(b Binding) (Binding, error) {
	out := s.Defaults()
	for _, name := range b.Names() {
		v := b[name]
		d, ok := s.Lookup(name)
		if !ok {
			return nil, caderr.New(caderr.InvalidParameter, "unknown parameter %q", name)
		}
		if v.Kind != d.Kind {
			return nil, caderr.New(caderr.InvalidParameter, "parameter %q expects %s, got %s", name, d.Kind, v.Kind)
		}
		if d.Kind == Number {
			if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
				return nil, caderr.New(caderr.InvalidParameter, "parameter %q must be finite", name)
			}
			if err := d.checkRange(v.Num); err != nil {
				return nil, err
			}
		}
		out[name] = v
	}
	return out, nil
}

// Binding maps parameter names to values.
type Binding map[string]Value

// Names returns the bound names in sorted order.
func (b Binding) Names() []string {
	names := make([]string, 0, len(b))
	for n := range b {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (b Binding) Clone() Binding {
	if b == nil {
		return nil
	}
	out := make(Binding, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Merge returns a copy of b with the entries of patch applied on top.
func (b Binding) Merge(patch Binding) Binding {
	out := b.Clone()
	if out == nil {
		out = make(Binding, len(patch))
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Plain converts the binding to plain Go values, as stored in model records.
func (b Binding) Plain() map[string]any {
	out := make(map[string]any, len(b))
	for k, v := range b {
		if v.Kind == Boolean {
			out[k] = v.Bool
		} else {
			out[k] = v.Num
		}
	}
	return out
}
