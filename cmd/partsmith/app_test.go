package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/config"
	"github.com/chazu/partsmith/pkg/ctxlog"
	"github.com/chazu/partsmith/pkg/editor"
	"github.com/chazu/partsmith/pkg/genclient"
	"github.com/chazu/partsmith/pkg/params"
)

func newApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.MeshCells = 32
	cfg.StorageDir = t.TempDir()
	app, err := NewApp(context.Background(), cfg, ctxlog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(app.Close)
	return app
}

// TestE2EListProgram runs source through compile and tessellation, the same
// path the compile command takes.
func TestE2EListProgram(t *testing.T) {
	app := newApp(t)
	result := app.Evaluate(context.Background(), `[(box 10 10 10) (translate (sphere 4) 20 0 0)]`, nil)

	if len(result.Errors) > 0 {
		for _, e := range result.Errors {
			t.Errorf("eval error (line %d): %s", e.Line, e.Message)
		}
		t.FailNow()
	}
	if len(result.Meshes) != 2 {
		t.Fatalf("expected 2 meshes, got %d", len(result.Meshes))
	}
	for i, m := range result.Meshes {
		if len(m.Vertices) == 0 || len(m.Normals) == 0 || len(m.Indices) == 0 {
			t.Errorf("mesh %d: empty geometry", i)
		}
		if m.Color != colorPalette[i] {
			t.Errorf("mesh %d: color = %q, want %q", i, m.Color, colorPalette[i])
		}
		if m.PartName == "" {
			t.Errorf("mesh %d: no part name", i)
		}
	}
}

func TestE2EEmptySource(t *testing.T) {
	app := newApp(t)
	result := app.Evaluate(context.Background(), "", nil)
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %v, want one", result.Errors)
	}
	if len(result.Meshes) != 0 {
		t.Errorf("meshes = %d, want none", len(result.Meshes))
	}
}

func TestEvaluateReportsKindAndReason(t *testing.T) {
	app := newApp(t)
	tests := []struct {
		name   string
		source string
		kind   string
		reason string
	}{
		{"unbalanced", `(box 1 2`, "ScriptError", ""},
		{"negative size", `(sphere -1)`, "GeometryError", string(caderr.ReasonNegativeSize)},
		{"round radius", `(box 10 10 10 :round-radius 6)`, "GeometryError", string(caderr.ReasonRoundRadius)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := app.Evaluate(context.Background(), tt.source, nil)
			if len(result.Errors) != 1 {
				t.Fatalf("errors = %v", result.Errors)
			}
			e := result.Errors[0]
			if e.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", e.Kind, tt.kind)
			}
			if tt.reason != "" && e.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", e.Reason, tt.reason)
			}
			if e.Message == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestEvaluateUsesBinding(t *testing.T) {
	app := newApp(t)
	src := `(box (param :width) 10 10)`
	narrow := app.Evaluate(context.Background(), src, params.Binding{"width": params.Num(10)})
	wide := app.Evaluate(context.Background(), src, params.Binding{"width": params.Num(40)})
	if len(narrow.Errors) > 0 || len(wide.Errors) > 0 {
		t.Fatalf("errors: %v %v", narrow.Errors, wide.Errors)
	}
	if maxX(wide.Meshes[0].Vertices) <= maxX(narrow.Meshes[0].Vertices) {
		t.Error("binding had no effect on the mesh")
	}
}

func maxX(v []float32) float32 {
	var m float32
	for i := 0; i < len(v); i += 3 {
		m = max(m, v[i])
	}
	return m
}

func TestAddTemplateAndExport(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()
	obj, err := app.AddTemplate(ctx, "spacer", params.Binding{"height": params.Num(20)})
	if err != nil {
		t.Fatal(err)
	}
	if obj.Source.Binding["height"] != params.Num(20) || obj.Source.Binding["outer_radius"] != params.Num(8) {
		t.Errorf("binding = %v", obj.Source.Binding)
	}
	if obj.Color != colorPalette[0] {
		t.Errorf("color = %q", obj.Color)
	}

	path := filepath.Join(t.TempDir(), "spacer.stl")
	if err := app.ExportSTL(path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("empty STL")
	}
}

func TestAddTemplateErrors(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()
	if _, err := app.AddTemplate(ctx, "nope", nil); !errors.Is(err, caderr.ErrNotFound) {
		t.Errorf("unknown template: err = %v", err)
	}
	if _, err := app.AddTemplate(ctx, "spacer", params.Binding{"height": params.Num(500)}); caderr.KindOf(err) != caderr.InvalidParameter {
		t.Errorf("out of range: err = %v", err)
	}
	if len(app.editor.Objects()) != 0 {
		t.Error("failed imports added objects")
	}
}

func TestExportEmptyScene(t *testing.T) {
	app := newApp(t)
	if err := app.ExportSTL(filepath.Join(t.TempDir(), "x.stl")); !errors.Is(err, caderr.ErrNotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

type fixedGenerator struct{ design genclient.Design }

func (g fixedGenerator) Generate(context.Context, genclient.Request) (genclient.Design, error) {
	return g.design, nil
}

func TestGenerateAndSave(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()
	schema := params.Schema{{Name: "size", Kind: params.Number, Default: params.Num(12)}}
	gen := fixedGenerator{genclient.Design{
		Code:        "(box (param :size) 10 5)",
		Parameters:  schema,
		Description: "a plate",
		Category:    "basics",
	}}

	obj, out, err := app.Generate(ctx, gen, "small plate")
	if err != nil {
		t.Fatal(err)
	}
	if out.Attempts != 1 || obj.Source.Binding["size"] != params.Num(12) {
		t.Errorf("attempts = %d, binding = %v", out.Attempts, obj.Source.Binding)
	}

	id, err := app.Save(ctx, obj.ID, editor.Meta{Description: out.Design.Description})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := app.store.Load(id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Name != "small plate" || rec.SourceCode != gen.design.Code {
		t.Errorf("record = %+v", rec)
	}
	if rec.Dimensions == nil || rec.Dimensions.Width < 11 || rec.Dimensions.Width > 13 {
		t.Errorf("dimensions = %+v", rec.Dimensions)
	}
}
