// Package editor is the single writer over a scene. Every mutation goes
// through an Editor method, runs under its lock, and is recorded in the
// undo history. Parameter and code edits are recompiled in the background
// and committed only when they succeed.
package editor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/csg"
	"github.com/chazu/partsmith/pkg/engine"
	"github.com/chazu/partsmith/pkg/history"
	"github.com/chazu/partsmith/pkg/kernel"
	"github.com/chazu/partsmith/pkg/params"
	"github.com/chazu/partsmith/pkg/persist"
	"github.com/chazu/partsmith/pkg/scene"
	"github.com/chazu/partsmith/pkg/scheduler"
	"github.com/chazu/partsmith/pkg/xform"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// ObjectStatus is the advisory compile status of one object. Err is the
// last failure; the object keeps its last good geometry meanwhile.
type ObjectStatus struct {
	State scheduler.Status
	Err   error
}

// Editor owns a scene.Store, its history and the recompilation scheduler.
type Editor struct {
	mu       sync.Mutex
	store    *scene.Store
	history  *history.Manager
	compiler *engine.Compiler
	sched    *scheduler.Scheduler
	saver    persist.Inserter
	logger   *slog.Logger

	status map[scene.ID]ObjectStatus

	historyLimit int
	debounce     time.Duration
}

// Option configures an Editor.
type Option func(*Editor)

// WithHistoryLimit caps the undo depth; 0 means unlimited.
func WithHistoryLimit(n int) Option {
	return func(e *Editor) { e.historyLimit = n }
}

// WithDebounce sets the recompilation debounce window.
func WithDebounce(d time.Duration) Option {
	return func(e *Editor) { e.debounce = d }
}

// WithInserter sets the persistence backend used by Save.
func WithInserter(in persist.Inserter) Option {
	return func(e *Editor) { e.saver = in }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Editor) { e.logger = l }
}

// New returns an Editor with an empty scene. Close it to stop background
// compilation.
func New(compiler *engine.Compiler, opts ...Option) *Editor {
	e := &Editor{
		compiler: compiler,
		store:    scene.NewStore(compiler.Kernel()),
		logger:   slog.Default(),
		status:   make(map[scene.ID]ObjectStatus),
		debounce: scheduler.DefaultDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.history = history.New(history.WithLimit(e.historyLimit), history.WithLogger(e.logger))
	e.sched = scheduler.New(e.recompile, e.commit,
		scheduler.WithDelay(e.debounce),
		scheduler.WithLogger(e.logger),
		scheduler.WithStatus(e.setStatus))
	return e
}

// Close stops the scheduler, discarding pending recompilations.
func (e *Editor) Close() {
	e.sched.Close()
}

// Import describes a compiled program to add to the scene.
type Import struct {
	Name       string
	Color      string
	Code       string
	Schema     params.Schema
	Binding    params.Binding
	Transform  *xform.Transform
	Provenance scene.Provenance
}

// Import compiles imp and adds the result as a new object. Compilation runs
// outside the editor lock; nothing is added when it fails.
func (e *Editor) Import(ctx context.Context, imp Import) (*scene.Object, error) {
	binding, err := resolve(imp.Schema, imp.Binding)
	if err != nil {
		return nil, err
	}
	res := e.compiler.Compile(ctx, imp.Code, binding)
	if !res.OK() {
		return nil, res.Error()
	}
	return e.Add(res, scene.Spec{
		Name:       imp.Name,
		Color:      imp.Color,
		Source:     scene.Source{Code: imp.Code, Schema: imp.Schema, Binding: binding},
		Transform:  imp.Transform,
		Provenance: imp.Provenance,
	})
}

// Add appends an object built from an existing compile result.
func (e *Editor) Add(res engine.Result, spec scene.Spec) (*scene.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, err := e.store.Build(res, spec)
	if err != nil {
		return nil, err
	}
	cmd := &insertCmd{store: e.store, obj: obj, index: e.store.Len(), label: "add " + obj.Name}
	if err := e.history.Do(cmd); err != nil {
		return nil, err
	}
	e.logger.Info("object added", "id", obj.ID, "name", obj.Name)
	return obj, nil
}

// Duplicate inserts a copy of id, with a new id, directly after it.
func (e *Editor) Duplicate(id scene.ID) (*scene.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	cp := obj.With(func(o *scene.Object) {
		o.ID = scene.NewID()
		o.Name = obj.Name + " copy"
		o.Hidden = false
		o.CreatedAt = time.Now()
	})
	cmd := &insertCmd{store: e.store, obj: cp, index: e.store.IndexOf(id) + 1, label: "duplicate " + obj.Name}
	if err := e.history.Do(cmd); err != nil {
		return nil, err
	}
	return cp, nil
}

// Remove deletes id and drops any pending recompilation for it.
func (e *Editor) Remove(id scene.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.history.Do(&removeCmd{store: e.store, id: id}); err != nil {
		return err
	}
	e.sched.Cancel(id)
	delete(e.status, id)
	e.logger.Info("object removed", "id", id)
	return nil
}

// Patch is a partial update. Name and Color apply immediately. Code, Schema
// and Binding trigger a debounced recompilation; Binding entries are merged
// over the current values.
type Patch struct {
	Name    *string
	Color   *string
	Code    *string
	Schema  *params.Schema
	Binding params.Binding
}

func (p Patch) recompiles() bool {
	return p.Code != nil || p.Schema != nil || len(p.Binding) > 0
}

// Update applies p to id. Parameter values are validated against the schema
// before anything is scheduled; an invalid value is returned as an error and
// nothing changes.
func (e *Editor) Update(id scene.ID, p Patch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, err := e.store.Get(id)
	if err != nil {
		return err
	}

	if p.Name != nil || p.Color != nil {
		next := obj.With(func(o *scene.Object) {
			if p.Name != nil {
				o.Name = *p.Name
			}
			if p.Color != nil {
				o.Color = *p.Color
			}
		})
		if err := e.history.Do(&replaceCmd{store: e.store, before: obj, after: next, label: "edit " + obj.Name}); err != nil {
			return err
		}
		obj = next
	}
	if !p.recompiles() {
		return nil
	}

	if !obj.Source.Parametric() {
		return caderr.New(caderr.InvalidParameter, "object %s has no source to recompile", id)
	}
	// Edits build on the request still waiting or compiling, if any, so
	// consecutive edits inside one debounce window accumulate. Otherwise
	// they build on the object as it stands.
	base := scheduler.Request{Source: obj.Source.Code, Schema: obj.Source.Schema, Binding: obj.Source.Binding}
	if latest, ok := e.sched.Latest(id); ok {
		base = latest
	}
	code := lo.FromPtrOr(p.Code, base.Source)
	schema, values := base.Schema, base.Binding
	if p.Schema != nil {
		if err := p.Schema.Validate(); err != nil {
			return err
		}
		schema, values = *p.Schema, nil
	}
	binding, err := resolve(schema, values.Merge(p.Binding))
	if err != nil {
		return err
	}
	return e.sched.Submit(id, scheduler.Request{Source: code, Schema: schema, Binding: binding})
}

// Rename sets id's display name.
func (e *Editor) Rename(id scene.ID, name string) error {
	return e.Update(id, Patch{Name: &name})
}

// Recolor sets id's display colour.
func (e *Editor) Recolor(id scene.ID, color string) error {
	return e.Update(id, Patch{Color: &color})
}

// SetParam changes one parameter value.
func (e *Editor) SetParam(id scene.ID, name string, v params.Value) error {
	return e.Update(id, Patch{Binding: params.Binding{name: v}})
}

// SetCode replaces an object's program.
func (e *Editor) SetCode(id scene.ID, code string) error {
	return e.Update(id, Patch{Code: &code})
}

func (e *Editor) recompile(ctx context.Context, req scheduler.Request) engine.Result {
	return e.compiler.Compile(ctx, req.Source, req.Binding)
}

// commit is the scheduler's apply callback. A successful result replaces the
// object's geometry as one undoable step; a failure leaves the object alone.
func (e *Editor) commit(id scene.ID, req scheduler.Request, res engine.Result) {
	if !res.OK() {
		e.logger.Warn("recompilation failed; keeping last good geometry", "id", id, "error", res.Err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, err := e.store.Get(id)
	if err != nil {
		return
	}
	next := obj.With(func(o *scene.Object) {
		o.Source = scene.Source{Code: req.Source, Schema: req.Schema, Binding: req.Binding.Clone()}
		o.Base = res.Solid
		o.Solid = scene.Place(e.store.Kernel(), res.Solid, o.Transform)
	})
	if err := e.history.Do(&replaceCmd{store: e.store, before: obj, after: next, label: "recompile " + obj.Name}); err != nil {
		e.logger.Error("commit failed", "id", id, "error", err)
		return
	}
	e.logger.Debug("recompilation committed", "id", id, "elapsed", res.Elapsed)
}

func (e *Editor) setStatus(id scene.ID, st scheduler.Status, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.store.Has(id) {
		return
	}
	prev := e.status[id]
	switch st {
	case scheduler.StatusCompiling:
		e.status[id] = ObjectStatus{State: st, Err: prev.Err}
	default:
		e.status[id] = ObjectStatus{State: st, Err: err}
	}
}

// Status returns id's compile status.
func (e *Editor) Status(id scene.ID) (ObjectStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.store.Has(id) {
		return ObjectStatus{}, caderr.New(caderr.NotFound, "object %s not found", id)
	}
	st, ok := e.status[id]
	if !ok {
		return ObjectStatus{State: scheduler.StatusIdle}, nil
	}
	return st, nil
}

// Pending reports whether id has a recompilation scheduled or running.
func (e *Editor) Pending(id scene.ID) bool {
	return e.sched.State(id) != scheduler.Idle
}

// Transform composes delta into id's transform. An empty delta records
// nothing.
func (e *Editor) Transform(id scene.ID, delta xform.Delta) (*scene.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if delta.IsZero() {
		return obj, nil
	}
	next, err := scene.ApplyTransform(e.store.Kernel(), obj, delta)
	if err != nil {
		return nil, err
	}
	if err := e.history.Do(&replaceCmd{store: e.store, before: obj, after: next, label: "transform " + obj.Name}); err != nil {
		return nil, err
	}
	return next, nil
}

// SetTransform replaces id's transform outright.
func (e *Editor) SetTransform(id scene.ID, t xform.Transform) (*scene.Object, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	next := scene.SetTransform(e.store.Kernel(), obj, t)
	if err := e.history.Do(&replaceCmd{store: e.store, before: obj, after: next, label: "transform " + obj.Name}); err != nil {
		return nil, err
	}
	return next, nil
}

// SetHidden hides or shows id.
func (e *Editor) SetHidden(id scene.ID, hidden bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if obj.Hidden == hidden {
		return nil
	}
	next := obj.With(func(o *scene.Object) { o.Hidden = hidden })
	return e.history.Do(&replaceCmd{store: e.store, before: obj, after: next, label: lo.Ternary(hidden, "hide ", "show ") + obj.Name})
}

// Combine applies op to ids, in order. Missing or hidden objects are
// NotFound. On success the operands are hidden and the result is appended;
// on failure the scene is unchanged.
func (e *Editor) Combine(ids []scene.ID, op csg.Op) (*scene.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	operands := make([]*scene.Object, 0, len(ids))
	for _, id := range ids {
		obj, err := e.store.Get(id)
		if err != nil {
			return nil, err
		}
		if obj.Hidden {
			return nil, caderr.New(caderr.NotFound, "object %s is hidden", id)
		}
		operands = append(operands, obj)
	}
	res, err := csg.Combine(e.store.Kernel(), operands, op, csg.WithIndex(e.store))
	if err != nil {
		return nil, err
	}
	cmd := &combineCmd{store: e.store, result: res, operands: operands, label: fmt.Sprintf("%s %d objects", op, len(operands))}
	if err := e.history.Do(cmd); err != nil {
		return nil, err
	}
	for _, id := range ids {
		e.sched.Cancel(id)
	}
	e.logger.Info("objects combined", "op", op, "operands", len(operands), "result", res.ID)
	return res, nil
}

// Undo reverts the last edit and returns its label.
func (e *Editor) Undo() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.history.Undo()
	if err != nil {
		return "", err
	}
	return entry.Command.Label(), nil
}

// Redo re-applies the last undone edit and returns its label.
func (e *Editor) Redo() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.history.Redo()
	if err != nil {
		return "", err
	}
	return entry.Command.Label(), nil
}

// CanUndo reports whether Undo would do anything.
func (e *Editor) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanUndo()
}

// CanRedo reports whether Redo would do anything.
func (e *Editor) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanRedo()
}

// Get returns the current version of id.
func (e *Editor) Get(id scene.ID) (*scene.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Get(id)
}

// Objects returns every object in scene order, hidden ones included.
func (e *Editor) Objects() []*scene.Object {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Objects()
}

// Visible returns the objects that are shown.
func (e *Editor) Visible() []*scene.Object {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Visible()
}

// Bounds returns the box around all visible objects.
func (e *Editor) Bounds() (min, max [3]float64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Bounds()
}

// RenderMesh returns id's world-space triangle mesh.
func (e *Editor) RenderMesh(id scene.ID) (*kernel.Mesh, error) {
	obj, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	return obj.Solid.Mesh()
}

// SceneMesh tessellates every visible object concurrently and merges the
// meshes in scene order.
func (e *Editor) SceneMesh(ctx context.Context) (*kernel.Mesh, error) {
	objs := e.Visible()
	meshes := make([]*kernel.Mesh, len(objs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, obj := range objs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := obj.Solid.Mesh()
			if err != nil {
				return fmt.Errorf("mesh %s: %w", obj.Name, err)
			}
			meshes[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return kernel.Merge("scene", meshes...), nil
}

// Meta is the descriptive data saved alongside an object.
type Meta struct {
	Description string
	Category    string
	Difficulty  string
	Thumbnail   string
	Tags        []string
}

// Save persists id as a model record and returns the record id. Objects
// without source, such as boolean results, cannot be saved.
func (e *Editor) Save(ctx context.Context, id scene.ID, meta Meta) (string, error) {
	if e.saver == nil {
		return "", caderr.New(caderr.SaveError, "no storage backend configured")
	}
	obj, err := e.Get(id)
	if err != nil {
		return "", err
	}
	if !obj.Source.Parametric() {
		return "", caderr.New(caderr.SaveError, "object %s has no source code", id)
	}
	rec := persist.ModelRecord{
		Name:        obj.Name,
		Description: meta.Description,
		SourceCode:  obj.Source.Code,
		Parameters:  obj.Source.Schema,
		Values:      obj.Source.Binding.Plain(),
		Category:    meta.Category,
		Difficulty:  meta.Difficulty,
		Thumbnail:   meta.Thumbnail,
		Tags:        meta.Tags,
	}
	if min, max := obj.Bounds(); max[0] >= min[0] {
		rec.Dimensions = &persist.Dimensions{Width: max[0] - min[0], Depth: max[1] - min[1], Height: max[2] - min[2]}
	}
	recID, err := e.saver.Insert(ctx, rec)
	if err != nil {
		return "", err
	}
	e.logger.Info("object saved", "id", id, "record", recID)
	return recID, nil
}

func resolve(schema params.Schema, b params.Binding) (params.Binding, error) {
	if len(schema) == 0 {
		return b.Clone(), nil
	}
	return schema.Resolve(b)
}
