package genclient

import (
	"context"
	"log/slog"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/engine"
	"github.com/chazu/partsmith/pkg/params"
)

// RoundRadiusHint accompanies the one regeneration after a round-radius
// failure.
const RoundRadiusHint = "The previous program failed because a round-radius was too large for its shape. Use smaller or no round-radius values."

// Compiler compiles program source.
type Compiler interface {
	Compile(ctx context.Context, source string, binding params.Binding) engine.Result
}

// Outcome is the final design and its compile result.
type Outcome struct {
	Design   Design
	Result   engine.Result
	Attempts int
}

// Pipeline generates a design and compiles it with its default parameters.
type Pipeline struct {
	gen      Generator
	compiler Compiler
	logger   *slog.Logger
}

// NewPipeline returns a Pipeline.
func NewPipeline(gen Generator, compiler Compiler, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{gen: gen, compiler: compiler, logger: logger}
}

// Generate asks the service for a design and compiles it. When compilation
// fails with a round-radius geometry error the design is regenerated exactly
// once. Generation errors stop the pipeline before any compilation. A
// compile failure is returned both in the Outcome and as the error.
func (p *Pipeline) Generate(ctx context.Context, prompt string) (Outcome, error) {
	req := Request{Prompt: prompt}
	var out Outcome
	for {
		d, err := p.gen.Generate(ctx, req)
		if err != nil {
			return out, err
		}
		out.Attempts++
		out.Design = d
		out.Result = p.compiler.Compile(ctx, d.Code, d.Parameters.Defaults())
		if out.Result.OK() {
			return out, nil
		}
		err = out.Result.Error()
		if out.Attempts > 1 || caderr.ReasonOf(err) != caderr.ReasonRoundRadius {
			return out, err
		}
		p.logger.Info("regenerating after round-radius failure", "error", err)
		req.Hint = RoundRadiusHint
	}
}
