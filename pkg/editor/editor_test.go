package editor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/csg"
	"github.com/chazu/partsmith/pkg/ctxlog"
	"github.com/chazu/partsmith/pkg/engine"
	"github.com/chazu/partsmith/pkg/kernel/sdfx"
	"github.com/chazu/partsmith/pkg/params"
	"github.com/chazu/partsmith/pkg/persist"
	"github.com/chazu/partsmith/pkg/scene"
	"github.com/chazu/partsmith/pkg/scheduler"
	"github.com/chazu/partsmith/pkg/xform"
	"github.com/google/go-cmp/cmp"
)

func newEditor(t *testing.T, opts ...Option) *Editor {
	t.Helper()
	c := engine.New(sdfx.New(sdfx.WithMeshCells(40)), engine.WithLogger(ctxlog.Nop()))
	opts = append([]Option{WithLogger(ctxlog.Nop()), WithDebounce(20 * time.Millisecond)}, opts...)
	e := New(c, opts...)
	t.Cleanup(e.Close)
	return e
}

func mustImport(t *testing.T, e *Editor, imp Import) *scene.Object {
	t.Helper()
	obj, err := e.Import(context.Background(), imp)
	if err != nil {
		t.Fatalf("Import(%q): %v", imp.Code, err)
	}
	return obj
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// snapshot captures what undo must restore exactly.
type objState struct {
	ID        scene.ID
	Name      string
	Hidden    bool
	Transform xform.Transform
	Solid     uintptr
}

func snapshot(e *Editor) []objState {
	var out []objState
	for _, o := range e.Objects() {
		out = append(out, objState{
			ID:        o.ID,
			Name:      o.Name,
			Hidden:    o.Hidden,
			Transform: o.Transform,
			Solid:     solidTag(o),
		})
	}
	return out
}

var solidIDs = map[any]uintptr{}

// solidTag numbers distinct solid pointers so snapshots can be diffed.
func solidTag(o *scene.Object) uintptr {
	if id, ok := solidIDs[o.Solid]; ok {
		return id
	}
	id := uintptr(len(solidIDs) + 1)
	solidIDs[o.Solid] = id
	return id
}

func TestUndoRedoRoundTrip(t *testing.T) {
	e := newEditor(t)
	initial := snapshot(e)

	a := mustImport(t, e, Import{Name: "a", Code: "(box 10)"})
	b := mustImport(t, e, Import{Name: "b", Code: "(translate (box 4) 5 5 5)"})
	c := mustImport(t, e, Import{Name: "c", Code: "(sphere 3)"})
	steps := 3
	if _, err := e.Transform(c.ID, xform.Delta{Translate: &xform.Vec3{X: 30}}); err != nil {
		t.Fatal(err)
	}
	if err := e.Rename(a.ID, "base"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Combine([]scene.ID{a.ID, b.ID}, csg.Subtract); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Duplicate(c.ID); err != nil {
		t.Fatal(err)
	}
	if err := e.Remove(c.ID); err != nil {
		t.Fatal(err)
	}
	steps += 5
	final := snapshot(e)

	for i := 0; i < steps; i++ {
		if _, err := e.Undo(); err != nil {
			t.Fatalf("undo %d: %v", i, err)
		}
	}
	if diff := cmp.Diff(initial, snapshot(e)); diff != "" {
		t.Errorf("after undo (-want +got):\n%s", diff)
	}
	if _, err := e.Undo(); !errors.Is(err, caderr.ErrNothingToUndo) {
		t.Errorf("extra undo err = %v", err)
	}

	for i := 0; i < steps; i++ {
		if _, err := e.Redo(); err != nil {
			t.Fatalf("redo %d: %v", i, err)
		}
	}
	if diff := cmp.Diff(final, snapshot(e)); diff != "" {
		t.Errorf("after redo (-want +got):\n%s", diff)
	}
	if _, err := e.Redo(); !errors.Is(err, caderr.ErrNothingToRedo) {
		t.Errorf("extra redo err = %v", err)
	}
}

func combinedVolume(t *testing.T, op csg.Op, first, second string) float64 {
	t.Helper()
	e := newEditor(t)
	a := mustImport(t, e, Import{Code: first})
	b := mustImport(t, e, Import{Code: second})
	res, err := e.Combine([]scene.ID{a.ID, b.ID}, op)
	if err != nil {
		t.Fatal(err)
	}
	return res.Solid.Volume()
}

func TestUnionOrderIndependent(t *testing.T) {
	cube, corner := "(box 10)", "(translate (box 4) 5 5 5)"
	ab := combinedVolume(t, csg.Union, cube, corner)
	ba := combinedVolume(t, csg.Union, corner, cube)
	if math.Abs(ab-ba) > 0.01*ab {
		t.Errorf("union(a,b) = %f, union(b,a) = %f", ab, ba)
	}
}

func TestSubtractOrderSensitive(t *testing.T) {
	cube, corner := "(box 10)", "(translate (box 4) 5 5 5)"
	cubeMinus := combinedVolume(t, csg.Subtract, cube, corner)
	cornerMinus := combinedVolume(t, csg.Subtract, corner, cube)
	if math.Abs(cubeMinus-992) > 0.1*992 {
		t.Errorf("cube - corner = %f, want ~992", cubeMinus)
	}
	if cornerMinus > 100 {
		t.Errorf("corner - cube = %f, want ~56", cornerMinus)
	}
}

func TestCombineHidesOperands(t *testing.T) {
	e := newEditor(t)
	a := mustImport(t, e, Import{Code: "(box 10)"})
	b := mustImport(t, e, Import{Code: "(sphere 6)"})
	res, err := e.Combine([]scene.ID{a.ID, b.ID}, csg.Union)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(e.Visible()); got != 1 || e.Visible()[0].ID != res.ID {
		t.Errorf("visible after combine = %d objects", got)
	}
	if _, err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	vis := e.Visible()
	if len(vis) != 2 || vis[0].ID != a.ID || vis[1].ID != b.ID {
		t.Errorf("undo did not restore the operands: %v", vis)
	}
}

func TestMissingObjects(t *testing.T) {
	e := newEditor(t)
	a := mustImport(t, e, Import{Code: "(box 10)"})
	b := mustImport(t, e, Import{Code: "(sphere 6)"})
	if err := e.SetHidden(b.ID, true); err != nil {
		t.Fatal(err)
	}
	ghost := scene.ID("ghost")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"remove", e.Remove(ghost), caderr.ErrNotFound},
		{"rename", e.Rename(ghost, "x"), caderr.ErrNotFound},
		{"set param", e.SetParam(ghost, "w", params.Num(1)), caderr.ErrNotFound},
		{"transform", second(e.Transform(ghost, xform.Delta{})), caderr.ErrNotFound},
		{"combine missing", second(e.Combine([]scene.ID{a.ID, ghost}, csg.Union)), caderr.ErrNotFound},
		{"combine hidden", second(e.Combine([]scene.ID{a.ID, b.ID}, csg.Union)), caderr.ErrNotFound},
		{"combine one", second(e.Combine([]scene.ID{a.ID}, csg.Union)), caderr.ErrInsufficientOperands},
		{"combine duplicate", second(e.Combine([]scene.ID{a.ID, a.ID}, csg.Union)), caderr.ErrInsufficientOperands},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("err = %v, want %v", tt.err, tt.want)
			}
		})
	}
	if len(e.Objects()) != 2 {
		t.Error("failed operations changed the scene")
	}
}

func second[T any](_ T, err error) error { return err }

func TestZeroScaleLeavesObject(t *testing.T) {
	e := newEditor(t)
	a := mustImport(t, e, Import{Code: "(box 10)"})
	_, err := e.Transform(a.ID, xform.Delta{Scale: &xform.Vec3{X: 1, Y: 0, Z: 1}})
	if !errors.Is(err, caderr.ErrDegenerateTransform) {
		t.Fatalf("err = %v", err)
	}
	if cur, _ := e.Get(a.ID); cur != a {
		t.Error("object changed after a rejected transform")
	}
}

func TestEmptyTransformRecordsNothing(t *testing.T) {
	e := newEditor(t)
	a := mustImport(t, e, Import{Code: "(box 10)"})
	before, _ := e.history.Depth()
	got, err := e.Transform(a.ID, xform.Delta{})
	if err != nil {
		t.Fatal(err)
	}
	if got != a {
		t.Error("empty delta replaced the object")
	}
	if after, _ := e.history.Depth(); after != before {
		t.Errorf("undo depth = %d, want %d", after, before)
	}
}

func sizeSchema() params.Schema {
	lo, hi := 1.0, 50.0
	return params.Schema{{Name: "size", Kind: params.Number, Default: params.Num(10), Min: &lo, Max: &hi}}
}

func width(o *scene.Object) float64 {
	min, max := o.Bounds()
	return max[0] - min[0]
}

func TestParameterEditRecompiles(t *testing.T) {
	e := newEditor(t)
	a := mustImport(t, e, Import{Code: "(box (param :size) 10 10)", Schema: sizeSchema()})
	if w := width(a); math.Abs(w-10) > 0.5 {
		t.Fatalf("initial width = %f", w)
	}

	if err := e.SetParam(a.ID, "size", params.Num(20)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "recompilation", func() bool {
		cur, _ := e.Get(a.ID)
		return cur.Source.Binding["size"].Num == 20 && !e.Pending(a.ID)
	})
	cur, _ := e.Get(a.ID)
	if w := width(cur); math.Abs(w-20) > 0.5 {
		t.Errorf("width after edit = %f, want 20", w)
	}

	if _, err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if cur, _ := e.Get(a.ID); cur != a {
		t.Error("undo did not restore the pre-edit object")
	}
}

func TestInvalidParameterRejected(t *testing.T) {
	e := newEditor(t)
	a := mustImport(t, e, Import{Code: "(box (param :size) 10 10)", Schema: sizeSchema()})
	for name, v := range map[string]params.Value{
		"out of range": params.Num(500),
		"wrong kind":   params.Bool(true),
	} {
		if err := e.SetParam(a.ID, "size", v); !errors.Is(err, caderr.ErrInvalidParameter) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
	if err := e.SetParam(a.ID, "depth", params.Num(1)); !errors.Is(err, caderr.ErrInvalidParameter) {
		t.Errorf("unknown parameter: err = %v", err)
	}
	if e.Pending(a.ID) {
		t.Error("invalid edit was scheduled")
	}
}

func TestFailedRecompileKeepsLastGood(t *testing.T) {
	e := newEditor(t)
	a := mustImport(t, e, Import{Code: "(box 10)"})
	if err := e.SetCode(a.ID, "(sphere -1)"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "error status", func() bool {
		st, _ := e.Status(a.ID)
		return st.State == scheduler.StatusError
	})
	st, _ := e.Status(a.ID)
	if !errors.Is(st.Err, caderr.ErrGeometry) {
		t.Errorf("status err = %v, want GeometryError", st.Err)
	}
	if cur, _ := e.Get(a.ID); cur != a {
		t.Error("failed recompilation replaced the object")
	}
	if e.CanRedo() {
		t.Error("unexpected redo entry")
	}

	if err := e.SetCode(a.ID, "(box 12)"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "recovery", func() bool {
		st, _ := e.Status(a.ID)
		return st.State == scheduler.StatusIdle && st.Err == nil
	})
	cur, _ := e.Get(a.ID)
	if cur.Source.Code != "(box 12)" {
		t.Errorf("code = %q", cur.Source.Code)
	}
}

func numSchema(name string) params.Schema {
	lo, hi := 1.0, 50.0
	return params.Schema{{Name: name, Kind: params.Number, Default: params.Num(10), Min: &lo, Max: &hi}}
}

func TestUndoneSchemaChangeRestoresParameters(t *testing.T) {
	e := newEditor(t)
	a := mustImport(t, e, Import{Code: "(box (param :w) 10 10)", Schema: numSchema("w")})

	code, schema := "(box 10 (param :h) 10)", numSchema("h")
	if err := e.Update(a.ID, Patch{Code: &code, Schema: &schema}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "schema commit", func() bool {
		cur, _ := e.Get(a.ID)
		return cur.Source.Schema[0].Name == "h" && !e.Pending(a.ID)
	})
	if _, err := e.Undo(); err != nil {
		t.Fatal(err)
	}

	if err := e.SetParam(a.ID, "w", params.Num(12)); err != nil {
		t.Fatalf("SetParam after undo: %v", err)
	}
	waitFor(t, "recompilation", func() bool {
		cur, _ := e.Get(a.ID)
		return cur.Source.Binding["w"].Num == 12 && !e.Pending(a.ID)
	})
	cur, _ := e.Get(a.ID)
	if cur.Source.Schema[0].Name != "w" || cur.Source.Code != a.Source.Code {
		t.Errorf("source = %+v", cur.Source)
	}
	if w := width(cur); math.Abs(w-12) > 0.5 {
		t.Errorf("width = %f, want 12", w)
	}
}

func TestFailedSchemaChangeKeepsParameters(t *testing.T) {
	e := newEditor(t)
	a := mustImport(t, e, Import{Code: "(box (param :w) 10 10)", Schema: numSchema("w")})

	code, schema := "(sphere -1)", numSchema("h")
	if err := e.Update(a.ID, Patch{Code: &code, Schema: &schema}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "error status", func() bool {
		st, _ := e.Status(a.ID)
		return st.State == scheduler.StatusError
	})

	if err := e.SetParam(a.ID, "w", params.Num(12)); err != nil {
		t.Fatalf("SetParam after failed edit: %v", err)
	}
	if err := e.SetParam(a.ID, "h", params.Num(12)); !errors.Is(err, caderr.ErrInvalidParameter) {
		t.Errorf("SetParam on the rejected schema: err = %v", err)
	}
	waitFor(t, "recompilation", func() bool {
		cur, _ := e.Get(a.ID)
		return cur.Source.Binding["w"].Num == 12 && !e.Pending(a.ID)
	})
	cur, _ := e.Get(a.ID)
	if cur.Source.Schema[0].Name != "w" || cur.Source.Code != a.Source.Code {
		t.Errorf("source = %+v", cur.Source)
	}
}

func TestEditsInOneWindowAccumulate(t *testing.T) {
	e := newEditor(t, WithDebounce(200*time.Millisecond))
	a := mustImport(t, e, Import{Code: "(box (param :w) 10 10)", Schema: numSchema("w")})

	code, schema := "(box (param :h) (param :h) 10)", numSchema("h")
	if err := e.Update(a.ID, Patch{Code: &code, Schema: &schema}); err != nil {
		t.Fatal(err)
	}
	if err := e.SetParam(a.ID, "h", params.Num(30)); err != nil {
		t.Fatalf("SetParam on the waiting schema: %v", err)
	}
	waitFor(t, "recompilation", func() bool {
		cur, _ := e.Get(a.ID)
		return cur.Source.Code == code && !e.Pending(a.ID)
	})
	cur, _ := e.Get(a.ID)
	if cur.Source.Binding["h"].Num != 30 {
		t.Errorf("binding = %v, want h=30", cur.Source.Binding)
	}
	if w := width(cur); math.Abs(w-30) > 0.5 {
		t.Errorf("width = %f, want 30", w)
	}
}

func TestBooleanResultIsNotParametric(t *testing.T) {
	e := newEditor(t)
	a := mustImport(t, e, Import{Code: "(box 10)"})
	b := mustImport(t, e, Import{Code: "(sphere 6)"})
	res, err := e.Combine([]scene.ID{a.ID, b.ID}, csg.Intersect)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetCode(res.ID, "(box 1)"); !errors.Is(err, caderr.ErrInvalidParameter) {
		t.Errorf("SetCode on boolean result err = %v", err)
	}
}

func TestSceneMesh(t *testing.T) {
	e := newEditor(t)
	a := mustImport(t, e, Import{Code: "(box 10)"})
	b := mustImport(t, e, Import{Code: "(translate (sphere 4) 20 0 0)"})
	c := mustImport(t, e, Import{Code: "(sphere 2)"})
	if err := e.SetHidden(c.ID, true); err != nil {
		t.Fatal(err)
	}

	m, err := e.SceneMesh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ma, _ := e.RenderMesh(a.ID)
	mb, _ := e.RenderMesh(b.ID)
	if got, want := m.TriangleCount(), ma.TriangleCount()+mb.TriangleCount(); got != want {
		t.Errorf("triangles = %d, want %d", got, want)
	}
	if _, err := e.RenderMesh("ghost"); !errors.Is(err, caderr.ErrNotFound) {
		t.Errorf("RenderMesh(ghost) err = %v", err)
	}
}

func TestSave(t *testing.T) {
	store, err := persist.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := newEditor(t, WithInserter(store))
	a := mustImport(t, e, Import{Name: "block", Code: "(box (param :size) 10 10)", Schema: sizeSchema(),
		Binding: params.Binding{"size": params.Num(20)}})

	recID, err := e.Save(context.Background(), a.ID, Meta{Category: "basics"})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := store.Load(recID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Name != "block" || rec.SourceCode != a.Source.Code || rec.Category != "basics" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Values["size"] != 20.0 {
		t.Errorf("values = %v", rec.Values)
	}
	if rec.Dimensions == nil || math.Abs(rec.Dimensions.Width-20) > 0.5 {
		t.Errorf("dimensions = %+v", rec.Dimensions)
	}

	b := mustImport(t, e, Import{Code: "(sphere 6)"})
	res, err := e.Combine([]scene.ID{a.ID, b.ID}, csg.Union)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Save(context.Background(), res.ID, Meta{}); !errors.Is(err, caderr.ErrSave) {
		t.Errorf("saving a boolean result err = %v, want SaveError", err)
	}

	bare := newEditor(t)
	c := mustImport(t, bare, Import{Code: "(box 1)"})
	if _, err := bare.Save(context.Background(), c.ID, Meta{}); !errors.Is(err, caderr.ErrSave) {
		t.Errorf("save without backend err = %v", err)
	}
}

func TestImportFailureAddsNothing(t *testing.T) {
	e := newEditor(t)
	if _, err := e.Import(context.Background(), Import{Code: "(box 10"}); !errors.Is(err, caderr.ErrScript) {
		t.Errorf("err = %v, want ScriptError", err)
	}
	if len(e.Objects()) != 0 || e.CanUndo() {
		t.Error("failed import changed the scene")
	}
}

// compileCounter counts the one record the compiler logs per compilation.
type compileCounter struct{ n atomic.Int64 }

func (c *compileCounter) Enabled(context.Context, slog.Level) bool { return true }
func (c *compileCounter) Handle(context.Context, slog.Record) error {
	c.n.Add(1)
	return nil
}
func (c *compileCounter) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *compileCounter) WithGroup(string) slog.Handler      { return c }

func TestRemoveDropsPendingEdit(t *testing.T) {
	counter := &compileCounter{}
	c := engine.New(sdfx.New(sdfx.WithMeshCells(40)), engine.WithLogger(slog.New(counter)))
	e := New(c, WithLogger(ctxlog.Nop()), WithDebounce(100*time.Millisecond))
	t.Cleanup(e.Close)

	a := mustImport(t, e, Import{Code: "(box (param :size) 10 10)", Schema: sizeSchema()})
	compiled := counter.n.Load()
	if err := e.SetParam(a.ID, "size", params.Num(20)); err != nil {
		t.Fatal(err)
	}
	if err := e.Remove(a.ID); err != nil {
		t.Fatal(err)
	}
	if e.Pending(a.ID) {
		t.Error("removed object still has a pending recompilation")
	}

	time.Sleep(300 * time.Millisecond)
	if n := counter.n.Load(); n != compiled {
		t.Errorf("compiler ran %d times after remove", n-compiled)
	}
	if _, err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if cur, _ := e.Get(a.ID); cur != a {
		t.Error("undo did not restore the unedited object")
	}
}

func TestCombineCommandRollsBackPartialHide(t *testing.T) {
	e := newEditor(t)
	a := mustImport(t, e, Import{Code: "(box 10)"})
	b := mustImport(t, e, Import{Code: "(sphere 6)"})
	gone := a.With(func(o *scene.Object) { o.ID = "gone" })
	result := b.With(func(o *scene.Object) { o.ID = scene.NewID() })

	cmd := &combineCmd{store: e.store, result: result, operands: []*scene.Object{a, b, gone}}
	if err := cmd.Do(); !errors.Is(err, caderr.ErrNotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
	for _, o := range e.Objects() {
		if o.Hidden {
			t.Errorf("%s left hidden", o.ID)
		}
	}
	if e.store.Has(result.ID) {
		t.Error("result inserted after a failed hide")
	}
}
