// Package templates loads the parametric template library. Templates are
// HCL files of the form:
//
//	template "spacer" {
//	  name = "Round Spacer"
//	  code = "(cylinder (param :radius) 10)"
//
//	  parameter "radius" {
//	    default = 8
//	    min     = 4
//	  }
//	}
//
// Template code is ordinary program source and is compiled like any other.
package templates

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/ctxlog"
	"github.com/chazu/partsmith/pkg/params"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

//go:embed builtin/*.hcl
var builtinFS embed.FS

// Template is one library entry.
type Template struct {
	ID          string
	Name        string
	Description string
	Category    string
	Difficulty  string
	Code        string
	Parameters  params.Schema
}

type fileRoot struct {
	Templates []*templateBlock `hcl:"template,block"`
	Remain    hcl.Body         `hcl:",remain"`
}

type templateBlock struct {
	ID          string            `hcl:"id,label"`
	Name        string            `hcl:"name"`
	Description *string           `hcl:"description,optional"`
	Category    *string           `hcl:"category,optional"`
	Difficulty  *string           `hcl:"difficulty,optional"`
	Code        string            `hcl:"code"`
	Parameters  []*parameterBlock `hcl:"parameter,block"`
}

type parameterBlock struct {
	Name    string    `hcl:"name,label"`
	Type    *string   `hcl:"type,optional"`
	Default cty.Value `hcl:"default"`
	Min     *float64  `hcl:"min,optional"`
	Max     *float64  `hcl:"max,optional"`
	Step    *float64  `hcl:"step,optional"`
	Label   *string   `hcl:"label,optional"`
}

// Library is a set of templates keyed by id.
type Library struct {
	byID map[string]Template
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{byID: make(map[string]Template)}
}

// Builtin returns the library shipped with the binary.
func Builtin(ctx context.Context) (*Library, error) {
	lib := NewLibrary()
	err := fs.WalkDir(builtinFS, "builtin", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || path.Ext(p) != ".hcl" {
			return err
		}
		src, err := builtinFS.ReadFile(p)
		if err != nil {
			return err
		}
		return lib.add(src, p)
	})
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("builtin templates loaded", "count", lib.Len())
	return lib, nil
}

// LoadDir adds every .hcl file under dir. A later template with an existing
// id replaces the earlier one, so user libraries can override builtins.
func (l *Library) LoadDir(ctx context.Context, dir string) error {
	logger := ctxlog.FromContext(ctx)
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".hcl" {
			return err
		}
		src, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read template file %s: %w", p, err)
		}
		logger.Debug("loading templates", "path", p)
		return l.add(src, p)
	})
}

// Parse decodes templates from HCL source.
func Parse(src []byte, filename string) ([]Template, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse template file %s: %s", filename, diags.Error())
	}
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode template file %s: %s", filename, diags.Error())
	}

	out := make([]Template, 0, len(root.Templates))
	for _, b := range root.Templates {
		t, err := b.translate()
		if err != nil {
			return nil, fmt.Errorf("%s: template %q: %w", filename, b.ID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (l *Library) add(src []byte, filename string) error {
	ts, err := Parse(src, filename)
	if err != nil {
		return err
	}
	for _, t := range ts {
		l.byID[t.ID] = t
	}
	return nil
}

// Get returns the template with id.
func (l *Library) Get(id string) (Template, error) {
	t, ok := l.byID[id]
	if !ok {
		return Template{}, caderr.New(caderr.NotFound, "template %q not found", id)
	}
	return t, nil
}

// List returns all templates sorted by category, then id.
func (l *Library) List() []Template {
	out := make([]Template, 0, len(l.byID))
	for _, t := range l.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of templates.
func (l *Library) Len() int { return len(l.byID) }

func (b *templateBlock) translate() (Template, error) {
	if strings.TrimSpace(b.Code) == "" {
		return Template{}, fmt.Errorf("code must not be empty")
	}
	t := Template{
		ID:          b.ID,
		Name:        b.Name,
		Description: deref(b.Description),
		Category:    deref(b.Category),
		Difficulty:  deref(b.Difficulty),
		Code:        b.Code,
	}
	for _, p := range b.Parameters {
		d, err := p.translate()
		if err != nil {
			return Template{}, err
		}
		t.Parameters = append(t.Parameters, d)
	}
	if err := t.Parameters.Validate(); err != nil {
		return Template{}, err
	}
	return t, nil
}

func (p *parameterBlock) translate() (params.Definition, error) {
	def, err := ctyToValue(p.Default)
	if err != nil {
		return params.Definition{}, fmt.Errorf("parameter %q: %w", p.Name, err)
	}
	kind := def.Kind
	if p.Type != nil {
		if kind, err = params.ParseKind(*p.Type); err != nil {
			return params.Definition{}, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
	}
	return params.Definition{
		Name:    p.Name,
		Kind:    kind,
		Default: def,
		Min:     p.Min,
		Max:     p.Max,
		Step:    p.Step,
		Label:   deref(p.Label),
	}, nil
}

func ctyToValue(v cty.Value) (params.Value, error) {
	if v.IsNull() || !v.IsKnown() {
		return params.Value{}, fmt.Errorf("default must be a known value")
	}
	switch v.Type() {
	case cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return params.Value{}, err
		}
		return params.Num(f), nil
	case cty.Bool:
		var b bool
		if err := gocty.FromCtyValue(v, &b); err != nil {
			return params.Value{}, err
		}
		return params.Bool(b), nil
	}
	return params.Value{}, fmt.Errorf("default must be a number or bool, got %s", v.Type().FriendlyName())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
