package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/config"
	"github.com/chazu/partsmith/pkg/editor"
	"github.com/chazu/partsmith/pkg/engine"
	"github.com/chazu/partsmith/pkg/genclient"
	"github.com/chazu/partsmith/pkg/graph"
	"github.com/chazu/partsmith/pkg/kernel"
	"github.com/chazu/partsmith/pkg/kernel/sdfx"
	"github.com/chazu/partsmith/pkg/params"
	"github.com/chazu/partsmith/pkg/persist"
	"github.com/chazu/partsmith/pkg/scene"
	"github.com/chazu/partsmith/pkg/templates"
	"github.com/samber/lo"
)

// colorPalette assigns distinct colors to objects in insertion order.
var colorPalette = []string{
	"#4A90D9", "#E67E22", "#2ECC71", "#9B59B6",
	"#E74C3C", "#1ABC9C", "#F39C12", "#3498DB",
}

// App wires the compiler, editor, template library and storage together for
// the command line.
type App struct {
	cfg      config.Config
	logger   *slog.Logger
	kernel   *sdfx.SdfxKernel
	compiler *engine.Compiler
	editor   *editor.Editor
	library  *templates.Library
	store    *persist.FileStore
}

// MeshData is the JSON form of one result shape.
type MeshData struct {
	Vertices []float32 `json:"vertices"`
	Normals  []float32 `json:"normals"`
	Indices  []uint32  `json:"indices"`
	PartName string    `json:"partName"`
	Color    string    `json:"color"`
}

// EvalErrorData is the JSON form of a compile error or warning.
type EvalErrorData struct {
	Kind    string `json:"kind,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// EvalResult is what Evaluate reports.
type EvalResult struct {
	Meshes   []MeshData      `json:"meshes"`
	Errors   []EvalErrorData `json:"errors"`
	Warnings []EvalErrorData `json:"warnings"`
	Elapsed  string          `json:"elapsed"`
}

// NewApp builds an App from cfg. Saving is disabled when cfg.StorageDir is
// empty.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	lib, err := templates.Builtin(ctx)
	if err != nil {
		return nil, err
	}
	k := sdfx.New(sdfx.WithMeshCells(cfg.MeshCells))
	compiler := engine.New(k, engine.WithTimeout(cfg.CompileTimeout), engine.WithLogger(logger))
	a := &App{
		cfg:      cfg,
		logger:   logger,
		kernel:   k,
		compiler: compiler,
		library:  lib,
	}
	opts := []editor.Option{
		editor.WithHistoryLimit(cfg.HistoryLimit),
		editor.WithDebounce(cfg.Debounce),
		editor.WithLogger(logger),
	}
	if cfg.StorageDir != "" {
		a.store, err = persist.NewFileStore(cfg.StorageDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, editor.WithInserter(a.store))
	}
	a.editor = editor.New(compiler, opts...)
	return a, nil
}

// Close stops background recompilation.
func (a *App) Close() {
	a.editor.Close()
}

// Evaluate compiles source and tessellates every result shape.
func (a *App) Evaluate(ctx context.Context, source string, binding params.Binding) EvalResult {
	result := EvalResult{
		Meshes:   []MeshData{},
		Errors:   []EvalErrorData{},
		Warnings: []EvalErrorData{},
	}
	res := a.compiler.Compile(ctx, source, binding)
	result.Elapsed = res.Elapsed.String()
	result.Warnings = lo.Map(res.Warnings, func(w graph.ValidationWarning, _ int) EvalErrorData {
		return EvalErrorData{Message: w.Message}
	})
	if !res.OK() {
		result.Errors = append(result.Errors, errorData(res.Error()))
		return result
	}
	for i, s := range res.Solids {
		m, err := s.Mesh()
		if err != nil {
			a.logger.Error("mesh failed", "index", i, "error", err)
			result.Errors = append(result.Errors, EvalErrorData{Message: "tessellation failed: " + err.Error()})
			return result
		}
		result.Meshes = append(result.Meshes, MeshData{
			Vertices: m.Vertices,
			Normals:  m.Normals,
			Indices:  m.Indices,
			PartName: lo.Ternary(m.PartName != "", m.PartName, fmt.Sprintf("part-%d", i+1)),
			Color:    colorPalette[i%len(colorPalette)],
		})
	}
	return result
}

func errorData(err error) EvalErrorData {
	var ce *caderr.Error
	if errors.As(err, &ce) {
		return EvalErrorData{Kind: ce.Kind.String(), Reason: string(ce.Reason), Line: ce.Line, Message: ce.Message}
	}
	return EvalErrorData{Message: err.Error()}
}

// AddCode compiles source into a new scene object.
func (a *App) AddCode(ctx context.Context, name, source string, binding params.Binding) (*scene.Object, error) {
	return a.editor.Import(ctx, editor.Import{
		Name:       name,
		Color:      a.nextColor(),
		Code:       source,
		Binding:    binding,
		Provenance: scene.FromCode,
	})
}

// AddTemplate instantiates template id with overrides applied over its
// defaults.
func (a *App) AddTemplate(ctx context.Context, id string, overrides params.Binding) (*scene.Object, error) {
	t, err := a.library.Get(id)
	if err != nil {
		return nil, err
	}
	return a.editor.Import(ctx, editor.Import{
		Name:       t.Name,
		Color:      a.nextColor(),
		Code:       t.Code,
		Schema:     t.Parameters,
		Binding:    overrides,
		Provenance: scene.FromTemplate,
	})
}

// Generate asks gen for a design, compiles it and adds it to the scene.
func (a *App) Generate(ctx context.Context, gen genclient.Generator, prompt string) (*scene.Object, genclient.Outcome, error) {
	out, err := genclient.NewPipeline(gen, a.compiler, a.logger).Generate(ctx, prompt)
	if err != nil {
		return nil, out, err
	}
	obj, err := a.editor.Add(out.Result, scene.Spec{
		Name:  prompt,
		Color: a.nextColor(),
		Source: scene.Source{
			Code:    out.Design.Code,
			Schema:  out.Design.Parameters,
			Binding: out.Design.Parameters.Defaults(),
		},
		Provenance: scene.FromGenerated,
	})
	return obj, out, err
}

// Save stores id in the model directory.
func (a *App) Save(ctx context.Context, id scene.ID, meta editor.Meta) (string, error) {
	return a.editor.Save(ctx, id, meta)
}

// ExportSTL writes the union of every visible object to path.
func (a *App) ExportSTL(path string) error {
	objs := a.editor.Visible()
	if len(objs) == 0 {
		return caderr.New(caderr.NotFound, "scene has no visible objects")
	}
	solid := objs[0].Solid.Handle()
	for _, obj := range objs[1:] {
		solid = a.kernel.Union(solid, obj.Solid.Handle())
	}
	if err := a.kernel.WriteSTL(solid, path); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	a.logger.Info("scene exported", "path", path, "objects", len(objs))
	return nil
}

// SceneMesh returns the merged visible scene.
func (a *App) SceneMesh(ctx context.Context) (*kernel.Mesh, error) {
	return a.editor.SceneMesh(ctx)
}

func (a *App) nextColor() string {
	return colorPalette[len(a.editor.Objects())%len(colorPalette)]
}
