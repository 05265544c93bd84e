// Package engine compiles part programs into solids. Programs are written in
// a small Lisp dialect evaluated by zygomys in a sandbox; builtins record a
// CSG graph that is validated and then built with a geometry kernel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/ctxlog"
	"github.com/chazu/partsmith/pkg/geom"
	"github.com/chazu/partsmith/pkg/graph"
	"github.com/chazu/partsmith/pkg/kernel"
	"github.com/chazu/partsmith/pkg/params"
	"github.com/chazu/partsmith/pkg/tessellate"
	zygo "github.com/glycerine/zygomys/zygo"
	"github.com/samber/lo"
)

// Compiler turns (source, binding) pairs into Results. It holds no state
// shared between calls beyond its configuration; every Compile creates a
// fresh sandbox, so concurrent calls are safe.
type Compiler struct {
	kernel  kernel.Kernel
	timeout time.Duration
	logger  *slog.Logger

	generation atomic.Uint64
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithTimeout sets the wall-clock budget for one compilation.
func WithTimeout(d time.Duration) Option {
	return func(c *Compiler) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

// New returns a Compiler that builds geometry with k.
func New(k kernel.Kernel, opts ...Option) *Compiler {
	c := &Compiler{kernel: k, timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kernel returns the geometry kernel the compiler builds with.
func (c *Compiler) Kernel() kernel.Kernel { return c.kernel }

// Timeout returns the configured compilation budget.
func (c *Compiler) Timeout() time.Duration { return c.timeout }

// Compile evaluates source against binding. It never panics and never
// returns a partially built Result. The binding should already be resolved
// against the program's schema; parameters the program reads but the binding
// lacks are a ScriptError.
func (c *Compiler) Compile(ctx context.Context, source string, binding params.Binding) Result {
	gen := c.generation.Add(1)
	log := c.logger
	if l := ctxlog.FromContext(ctx); l != slog.Default() {
		log = l
	}
	log = log.With("compile", gen)

	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Failure(caderr.Wrap(caderr.Cancelled, err, "compilation cancelled"))
	}

	budget, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ch := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- Failure(caderr.New(caderr.ScriptError, "panic during evaluation: %v", r))
			}
		}()
		ch <- c.compile(budget, source, binding.Clone())
	}()

	res := waitWithTimeout(ctx, budget, ch, c.timeout)
	res.Elapsed = time.Since(start)

	if res.OK() {
		log.Debug("compiled", "solids", len(res.Solids), "nodes", res.Graph.NodeCount(),
			"warnings", len(res.Warnings), "elapsed", res.Elapsed)
	} else {
		log.Info("compile failed", "kind", res.Err.Kind, "reason", res.Err.Reason,
			"line", res.Err.Line, "error", res.Err.Message, "elapsed", res.Elapsed)
	}
	return res
}

// compile runs on the evaluation goroutine.
func (c *Compiler) compile(ctx context.Context, source string, binding params.Binding) Result {
	if strings.TrimSpace(source) == "" {
		return Failure(caderr.WithReason(caderr.ScriptError, caderr.ReasonNoResult, "program is empty"))
	}

	g, err := evaluate(ctx, source, binding)
	if err != nil {
		return Failure(err)
	}

	vr := graph.ValidateAll(g)
	if !vr.OK() {
		return Failure(validationFailure(vr.Errors))
	}

	handles, buildErr := tessellate.Build(g, c.kernel)
	if buildErr != nil {
		return Failure(buildFailure(buildErr))
	}
	if ctx.Err() != nil {
		return Failure(caderr.Wrap(caderr.Cancelled, ctx.Err(), "compilation cancelled"))
	}

	solids := lo.Map(handles, func(h kernel.Solid, _ int) *geom.Solid {
		return geom.New(c.kernel, h)
	})
	combined := handles[0]
	for _, h := range handles[1:] {
		combined = c.kernel.Union(combined, h)
	}

	mesh, meshErr := c.kernel.ToMesh(combined)
	if meshErr != nil {
		return Failure(caderr.Wrap(caderr.GeometryError, meshErr, "meshing failed"))
	}
	if mesh.IsEmpty() {
		return Failure(caderr.WithReason(caderr.GeometryError, caderr.ReasonEmptySolid,
			"program produced an empty solid"))
	}
	if len(handles) == 1 {
		solids[0] = geom.FromMesh(c.kernel, handles[0], mesh)
	}

	res := Success(g, geom.FromMesh(c.kernel, combined, mesh), solids)
	res.Warnings = vr.Warnings
	return res
}

// interrupted unwinds the interpreter once ctx is done.
type interrupted struct{ err error }

// evaluate runs the preprocessed program in a fresh sandbox and returns the
// graph its builtins recorded. Every function call checks ctx, so a program
// that loops without calling a builtin still stops when ctx is done.
func evaluate(ctx context.Context, source string, binding params.Binding) (g *graph.DesignGraph, cerr *caderr.Error) {
	// Sandbox mode removes filesystem, network and system access.
	env := zygo.NewZlispSandbox()
	defer env.Stop()
	defer func() {
		if r := recover(); r != nil {
			in, ok := r.(interrupted)
			if !ok {
				panic(r)
			}
			g, cerr = nil, caderr.Wrap(caderr.Cancelled, in.err, "compilation cancelled")
		}
	}()
	env.AddPreHook(func(*zygo.Zlisp, string, []zygo.Sexp) {
		if err := ctx.Err(); err != nil {
			panic(interrupted{err})
		}
	})

	ev := newEvaluation(ctx, binding)
	registerBuiltins(env, ev)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return nil, parseZygomysError(err)
	}

	last, err := env.Run()
	if err != nil {
		if ev.scriptErr != nil {
			return nil, ev.scriptErr
		}
		return nil, parseZygomysError(err)
	}

	if err := ev.finish(last); err != nil {
		return nil, err
	}
	return ev.g, nil
}

// validationFailure turns the first blocking finding into a caderr. Findings
// with a geometric Reason are GeometryErrors; structural ones are
// ScriptErrors since only a malformed program can produce them.
func validationFailure(errs []graph.ValidationError) *caderr.Error {
	first := errs[0]
	for _, e := range errs {
		if e.Reason != caderr.ReasonNone {
			first = e
			break
		}
	}
	kind := caderr.ScriptError
	if first.Reason != caderr.ReasonNone && first.Reason != caderr.ReasonNoResult {
		kind = caderr.GeometryError
	}
	msg := first.Message
	if n := len(errs); n > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, n-1)
	}
	return &caderr.Error{Kind: kind, Reason: first.Reason, Message: msg, Line: first.Line}
}

func buildFailure(err error) *caderr.Error {
	var ne *tessellate.NodeError
	if errors.As(err, &ne) {
		return &caderr.Error{
			Kind:    caderr.GeometryError,
			Message: fmt.Sprintf("%s: %v", ne.Node.Source.Form, ne.Err),
			Line:    ne.Node.Source.Line,
			Err:     err,
		}
	}
	return caderr.Wrap(caderr.GeometryError, err, "building geometry")
}

// linePattern matches zygomys error messages that include "Error on line N: ..."
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches simpler "line N: ..." patterns.
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into a ScriptError, extracting
// the line number when the message carries one.
func parseZygomysError(err error) *caderr.Error {
	msg := strings.TrimSpace(err.Error())
	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return &caderr.Error{
				Kind:    caderr.ScriptError,
				Message: strings.TrimSpace(m[2]),
				Line:    line,
				Err:     err,
			}
		}
	}
	return &caderr.Error{Kind: caderr.ScriptError, Message: msg, Err: err}
}
