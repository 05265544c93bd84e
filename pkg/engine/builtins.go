package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/graph"
	"github.com/chazu/partsmith/pkg/params"
	zygo "github.com/glycerine/zygomys/zygo"
)

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

// sexpShape refers to a node already recorded in the evaluation's graph.
type sexpShape struct {
	id   graph.NodeID
	form string
}

func (s *sexpShape) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(%s %s)", s.form, s.id.Short())
}
func (s *sexpShape) Type() *zygo.RegisteredType { return nil }

// sexpVec3 wraps a graph.Vec3.
type sexpVec3 struct {
	vec graph.Vec3
}

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec.X, v.vec.Y, v.vec.Z)
}
func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

// sexpProfile wraps a 2D profile until extrude consumes it.
type sexpProfile struct {
	profile graph.Profile
}

func (p *sexpProfile) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(%s profile)", p.profile.Kind)
}
func (p *sexpProfile) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok || !strings.HasPrefix(str.S, kwPrefix) {
		return "", false
	}
	return str.S[len(kwPrefix):], true
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	for i := 0; i < len(args); i++ {
		name, ok := isKW(args[i])
		if !ok {
			result.positional = append(result.positional, args[i])
			continue
		}
		if i+1 < len(args) {
			result.kw[name] = args[i+1]
			i++
		} else {
			result.kw[name] = zygo.SexpNull
		}
	}
	return result
}

// number returns the keyword value if present, else the positional argument
// at pos. ok is false when neither was supplied.
func (a kwArgs) number(key string, pos int) (f float64, ok bool, err error) {
	v, found := a.kw[key]
	if !found {
		if pos < 0 || pos >= len(a.positional) {
			return 0, false, nil
		}
		v = a.positional[pos]
	}
	f, err = toFloat64(v)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return f, true, nil
}

// roundRadius reads :round-radius, accepting :round as a short form.
func (a kwArgs) roundRadius() (float64, error) {
	for _, key := range []string{"round-radius", "round"} {
		if v, ok := a.kw[key]; ok {
			f, err := toFloat64(v)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", key, err)
			}
			return f, nil
		}
	}
	return 0, nil
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %s", describe(s))
}

// toKeywordString extracts a keyword name or plain string from a Sexp.
// Handles both preprocessed keywords (__kw_z) and plain strings ("z").
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %s", describe(s))
	}
	return strings.TrimPrefix(str.S, kwPrefix), nil
}

// toVec3 accepts (vec3 x y z), a three-element array or list, or a single
// number meaning the same value on every axis.
func toVec3(s zygo.Sexp) (graph.Vec3, error) {
	switch v := s.(type) {
	case *sexpVec3:
		return v.vec, nil
	case *zygo.SexpInt, *zygo.SexpFloat:
		f, _ := toFloat64(v)
		return graph.Vec3{X: f, Y: f, Z: f}, nil
	}
	items, err := sexpListToSlice(s)
	if err != nil {
		return graph.Vec3{}, fmt.Errorf("expected vec3, got %s", describe(s))
	}
	if len(items) != 3 {
		return graph.Vec3{}, fmt.Errorf("expected 3 components, got %d", len(items))
	}
	var c [3]float64
	for i, item := range items {
		if c[i], err = toFloat64(item); err != nil {
			return graph.Vec3{}, err
		}
	}
	return graph.Vec3{X: c[0], Y: c[1], Z: c[2]}, nil
}

// toVec2 accepts a two-element array or list.
func toVec2(s zygo.Sexp) (graph.Vec2, error) {
	items, err := sexpListToSlice(s)
	if err != nil {
		return graph.Vec2{}, fmt.Errorf("expected point [x y], got %s", describe(s))
	}
	if len(items) != 2 {
		return graph.Vec2{}, fmt.Errorf("expected point [x y], got %d components", len(items))
	}
	x, err := toFloat64(items[0])
	if err != nil {
		return graph.Vec2{}, err
	}
	y, err := toFloat64(items[1])
	if err != nil {
		return graph.Vec2{}, err
	}
	return graph.Vec2{X: x, Y: y}, nil
}

func toShape(s zygo.Sexp) (*sexpShape, error) {
	if sh, ok := s.(*sexpShape); ok {
		return sh, nil
	}
	return nil, fmt.Errorf("expected shape, got %s", describe(s))
}

// sexpListToSlice converts a SexpPair (Lisp list) or SexpArray to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %s", describe(s))
}

// collectShapes flattens shape arguments, descending into arrays and lists.
func collectShapes(args []zygo.Sexp) ([]*sexpShape, error) {
	var out []*sexpShape
	for _, a := range args {
		if sh, ok := a.(*sexpShape); ok {
			out = append(out, sh)
			continue
		}
		items, err := sexpListToSlice(a)
		if err != nil {
			return nil, fmt.Errorf("expected shape, got %s", describe(a))
		}
		nested, err := collectShapes(items)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

func describe(s zygo.Sexp) string {
	if s == nil {
		return "nothing"
	}
	return s.SexpString(nil)
}

// normalizeParam folds kebab and snake spellings of a parameter name together.
func normalizeParam(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// ---------------------------------------------------------------------------
// Evaluation state
// ---------------------------------------------------------------------------

// evaluation is the per-Compile state the builtins close over. It is only
// touched from the interpreter goroutine.
type evaluation struct {
	ctx     context.Context
	binding map[string]params.Value
	g       *graph.DesignGraph
	counter int

	// scriptErr, when set, replaces the interpreter's error message.
	scriptErr *caderr.Error
}

func newEvaluation(ctx context.Context, binding params.Binding) *evaluation {
	norm := make(map[string]params.Value, len(binding))
	for k, v := range binding {
		norm[normalizeParam(k)] = v
	}
	return &evaluation{ctx: ctx, binding: norm, g: graph.New()}
}

// check aborts the script once the compilation budget is gone.
func (ev *evaluation) check() error {
	if err := ev.ctx.Err(); err != nil {
		if ev.scriptErr == nil {
			ev.scriptErr = caderr.Wrap(caderr.Cancelled, err, "compilation cancelled")
		}
		return err
	}
	return nil
}

// add records a node and returns a reference to it. Ids come from the
// per-evaluation counter, so the same program always yields the same ids.
func (ev *evaluation) add(kind graph.NodeKind, form string, pa kwArgs, children []graph.NodeID, data graph.NodeData) (zygo.Sexp, error) {
	ev.counter++
	n := &graph.Node{
		ID:       graph.NewNodeID(fmt.Sprintf("%s/%d", form, ev.counter)),
		Kind:     kind,
		Source:   graph.SourceRef{Form: form},
		Children: children,
		Data:     data,
	}
	if v, ok := pa.kw["name"]; ok {
		name, err := toKeywordString(v)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("%s: name: %w", form, err)
		}
		n.Name = name
	}
	ev.g.AddNode(n)
	return &sexpShape{id: n.ID, form: form}, nil
}

// finish registers the program's final value as the graph's result.
func (ev *evaluation) finish(last zygo.Sexp) *caderr.Error {
	if sh, ok := last.(*sexpShape); ok {
		ev.g.AddRoot(sh.id)
		return nil
	}
	items, err := sexpListToSlice(last)
	if err != nil {
		return caderr.New(caderr.ScriptError, "program must evaluate to a shape or a list of shapes, got %s", describe(last))
	}
	if len(items) == 0 {
		return caderr.WithReason(caderr.ScriptError, caderr.ReasonNoResult, "program produced no shapes")
	}
	shapes, err := collectShapes(items)
	if err != nil {
		return caderr.New(caderr.ScriptError, "program result: %v", err)
	}
	if len(shapes) == 1 {
		ev.g.AddRoot(shapes[0].id)
		return nil
	}
	ids := make([]graph.NodeID, len(shapes))
	for i, sh := range shapes {
		ids[i] = sh.id
	}
	grp, _ := ev.add(graph.NodeGroup, "result", kwArgs{}, ids, graph.GroupData{})
	ev.g.AddRoot(grp.(*sexpShape).id)
	return nil
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

type builtin func(pa kwArgs) (zygo.Sexp, error)

// registerBuiltins installs the modelling builtins into a zygomys
// environment. Each call records nodes in ev.g.
//
// Source code must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens are converted to recognizable string literals.
func registerBuiltins(env *zygo.Zlisp, ev *evaluation) {
	def := func(name string, fn builtin) {
		env.AddFunction(name, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if err := ev.check(); err != nil {
				return zygo.SexpNull, err
			}
			return fn(parseArgs(args))
		})
	}

	// (box 10 20 30), (box (vec3 10 20 30)), (box 10), (box :size [10 20 30] :round-radius 1)
	def("box", func(pa kwArgs) (zygo.Sexp, error) {
		var size graph.Vec3
		var err error
		switch v, ok := pa.kw["size"]; {
		case ok:
			size, err = toVec3(v)
		case len(pa.positional) == 1:
			size, err = toVec3(pa.positional[0])
		case len(pa.positional) == 3:
			size, err = toVec3(&zygo.SexpArray{Val: pa.positional})
		default:
			return zygo.SexpNull, fmt.Errorf("box: expected a size, got %d arguments", len(pa.positional))
		}
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("box: size: %w", err)
		}
		round, err := pa.roundRadius()
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("box: %w", err)
		}
		return ev.add(graph.NodePrimitive, "box", pa, nil, graph.BoxData{Size: size, Round: round})
	})

	// (cylinder radius height) or (cylinder :radius 5 :height 20 :round-radius 1)
	def("cylinder", func(pa kwArgs) (zygo.Sexp, error) {
		r, okR, err := pa.number("radius", 0)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("cylinder: %w", err)
		}
		h, okH, err := pa.number("height", 1)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("cylinder: %w", err)
		}
		if !okR || !okH {
			return zygo.SexpNull, fmt.Errorf("cylinder: requires radius and height")
		}
		round, err := pa.roundRadius()
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("cylinder: %w", err)
		}
		return ev.add(graph.NodePrimitive, "cylinder", pa, nil, graph.CylinderData{Radius: r, Height: h, Round: round})
	})

	// (sphere 5) or (sphere :radius 5)
	def("sphere", func(pa kwArgs) (zygo.Sexp, error) {
		r, ok, err := pa.number("radius", 0)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("sphere: %w", err)
		}
		if !ok {
			return zygo.SexpNull, fmt.Errorf("sphere: requires a radius")
		}
		return ev.add(graph.NodePrimitive, "sphere", pa, nil, graph.SphereData{Radius: r})
	})

	// (rect 10 20)
	def("rect", func(pa kwArgs) (zygo.Sexp, error) {
		w, okW, err := pa.number("width", 0)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("rect: %w", err)
		}
		h, okH, err := pa.number("height", 1)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("rect: %w", err)
		}
		if !okW || !okH {
			return zygo.SexpNull, fmt.Errorf("rect: requires width and height")
		}
		return &sexpProfile{profile: graph.Profile{Kind: graph.ProfileRect, Width: w, Height: h}}, nil
	})

	// (circle 5)
	def("circle", func(pa kwArgs) (zygo.Sexp, error) {
		r, ok, err := pa.number("radius", 0)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("circle: %w", err)
		}
		if !ok {
			return zygo.SexpNull, fmt.Errorf("circle: requires a radius")
		}
		return &sexpProfile{profile: graph.Profile{Kind: graph.ProfileCircle, Radius: r}}, nil
	})

	// (polygon [[0 0] [10 0] [0 10]])
	def("polygon", func(pa kwArgs) (zygo.Sexp, error) {
		src, ok := pa.kw["points"]
		if !ok {
			if len(pa.positional) != 1 {
				return zygo.SexpNull, fmt.Errorf("polygon: expected a list of points")
			}
			src = pa.positional[0]
		}
		items, err := sexpListToSlice(src)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("polygon: %w", err)
		}
		pts := make([]graph.Vec2, 0, len(items))
		for i, item := range items {
			p, err := toVec2(item)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("polygon: point %d: %w", i, err)
			}
			pts = append(pts, p)
		}
		return &sexpProfile{profile: graph.Profile{Kind: graph.ProfilePolygon, Points: pts}}, nil
	})

	// (extrude (rect 10 20) 5) or (extrude :profile (circle 3) :height 10)
	def("extrude", func(pa kwArgs) (zygo.Sexp, error) {
		var prof zygo.Sexp
		rest := pa.positional
		if v, ok := pa.kw["profile"]; ok {
			prof = v
		} else if len(rest) > 0 {
			prof, rest = rest[0], rest[1:]
		}
		p, ok := prof.(*sexpProfile)
		if !ok {
			return zygo.SexpNull, fmt.Errorf("extrude: expected a profile (rect, circle or polygon), got %s", describe(prof))
		}
		h, okH, err := kwArgs{kw: pa.kw, positional: rest}.number("height", 0)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("extrude: %w", err)
		}
		if !okH {
			return zygo.SexpNull, fmt.Errorf("extrude: requires a height")
		}
		return ev.add(graph.NodePrimitive, "extrude", pa, nil, graph.ExtrudeData{Profile: p.profile, Height: h})
	})

	for _, op := range []graph.BoolOp{graph.OpUnion, graph.OpSubtract, graph.OpIntersect} {
		form := op.String()
		// (union a b c), (subtract base cutter...), (intersect [a b])
		def(form, func(pa kwArgs) (zygo.Sexp, error) {
			shapes, err := collectShapes(pa.positional)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", form, err)
			}
			if len(shapes) == 0 {
				return zygo.SexpNull, fmt.Errorf("%s: requires at least one shape", form)
			}
			if len(shapes) == 1 && pa.kw["name"] == nil {
				return shapes[0], nil
			}
			ids := make([]graph.NodeID, len(shapes))
			for i, sh := range shapes {
				ids[i] = sh.id
			}
			return ev.add(graph.NodeBoolean, form, pa, ids, graph.BooleanData{Op: op})
		})
	}

	transform := func(form string, uniform bool, set func(*graph.TransformData, graph.Vec3)) builtin {
		return func(pa kwArgs) (zygo.Sexp, error) {
			if len(pa.positional) == 0 {
				return zygo.SexpNull, fmt.Errorf("%s: requires a shape", form)
			}
			sh, err := toShape(pa.positional[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", form, err)
			}
			rest := pa.positional[1:]
			var v graph.Vec3
			switch by, ok := pa.kw["by"]; {
			case ok:
				v, err = toVec3(by)
			case len(rest) == 3:
				v, err = toVec3(&zygo.SexpArray{Val: rest})
			case len(rest) == 1:
				if _, scalarErr := toFloat64(rest[0]); scalarErr == nil && !uniform {
					return zygo.SexpNull, fmt.Errorf("%s: expected a vector, got %s", form, describe(rest[0]))
				}
				v, err = toVec3(rest[0])
			default:
				return zygo.SexpNull, fmt.Errorf("%s: expected a vector (vec3 x y z) or three numbers", form)
			}
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", form, err)
			}
			var td graph.TransformData
			set(&td, v)
			return ev.add(graph.NodeTransform, form, pa, []graph.NodeID{sh.id}, td)
		}
	}

	// (translate shape (vec3 1 2 3)) or (translate shape 1 2 3) or (translate shape :by v)
	def("translate", transform("translate", false, func(td *graph.TransformData, v graph.Vec3) { td.Translation = &v }))
	// (rotate shape (vec3 0 0 90)); angles in degrees, XYZ order.
	def("rotate", transform("rotate", false, func(td *graph.TransformData, v graph.Vec3) { td.Rotation = &v }))
	// (scale shape 2) or (scale shape (vec3 1 1 2))
	def("scale", transform("scale", true, func(td *graph.TransformData, v graph.Vec3) { td.Scale = &v }))

	// (vec3 1 2 3)
	def("vec3", func(pa kwArgs) (zygo.Sexp, error) {
		if len(pa.positional) != 3 {
			return zygo.SexpNull, fmt.Errorf("vec3 requires exactly 3 arguments, got %d", len(pa.positional))
		}
		v, err := toVec3(&zygo.SexpArray{Val: pa.positional})
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("vec3: %w", err)
		}
		return &sexpVec3{vec: v}, nil
	})

	// (param :width) or (param :width 40)
	def("param", func(pa kwArgs) (zygo.Sexp, error) {
		name, fallback, err := paramArgs(pa)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("param: %w", err)
		}
		v, ok := ev.binding[normalizeParam(name)]
		if !ok {
			if fallback != nil {
				return fallback, nil
			}
			return zygo.SexpNull, fmt.Errorf("param: parameter %q is not bound", name)
		}
		if v.Kind == params.Boolean {
			return &zygo.SexpBool{Val: v.Bool}, nil
		}
		return &zygo.SexpFloat{Val: v.Num}, nil
	})

	// (has-param :width)
	def("has_param", func(pa kwArgs) (zygo.Sexp, error) {
		name, _, err := paramArgs(pa)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("has-param: %w", err)
		}
		_, ok := ev.binding[normalizeParam(name)]
		return &zygo.SexpBool{Val: ok}, nil
	})
}

// paramArgs reads the parameter name and optional default. A keyword name
// arrives as a dangling keyword (value SexpNull) or followed by the default.
func paramArgs(pa kwArgs) (string, zygo.Sexp, error) {
	if len(pa.kw) == 1 && len(pa.positional) == 0 {
		for name, v := range pa.kw {
			if v == zygo.SexpNull {
				return name, nil, nil
			}
			return name, v, nil
		}
	}
	if len(pa.kw) == 0 && len(pa.positional) >= 1 && len(pa.positional) <= 2 {
		name, err := toKeywordString(pa.positional[0])
		if err != nil {
			return "", nil, err
		}
		if len(pa.positional) == 2 {
			return name, pa.positional[1], nil
		}
		return name, nil, nil
	}
	return "", nil, fmt.Errorf("expected a parameter name and optional default")
}
