// Command partsmith compiles parametric part programs, instantiates
// templates and generated designs, and exports them as STL.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/config"
	"github.com/chazu/partsmith/pkg/ctxlog"
	"github.com/chazu/partsmith/pkg/editor"
	"github.com/chazu/partsmith/pkg/genclient"
	"github.com/chazu/partsmith/pkg/params"
	"github.com/chazu/partsmith/pkg/scene"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to process exit codes.
func exitCode(err error) int {
	switch caderr.KindOf(err) {
	case caderr.ScriptError, caderr.GeometryError, caderr.InvalidGeometry:
		return 3
	case caderr.InvalidParameter:
		return 2
	case caderr.GenerationError:
		return 4
	default:
		return 1
	}
}

// cli holds the state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    config.Config
	logger *slog.Logger
	app    *App
}

// run builds the command tree and executes it against args.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := &cli{}
	root := &cobra.Command{
		Use:           "partsmith",
		Short:         "Compile parametric part programs into printable meshes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.Context(), stderr)
		},
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to an HCL config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "text or json")

	root.AddCommand(
		c.compileCmd(),
		c.templatesCmd(),
		c.templateCmd(),
		c.generateCmd(),
		c.modelsCmd(),
	)
	err := root.ExecuteContext(ctx)
	if c.app != nil {
		c.app.Close()
	}
	return err
}

func (c *cli) setup(ctx context.Context, stderr io.Writer) error {
	cfg, err := config.Load(ctx, c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.logFormat != "" {
		cfg.LogFormat = c.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = ctxlog.New(cfg.LogLevel, cfg.LogFormat, stderr)
	c.app, err = NewApp(ctx, cfg, c.logger)
	return err
}

func (c *cli) compileCmd() *cobra.Command {
	var (
		rawParams []string
		out       string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "compile <file>",
		Short: "Compile a program and report its shapes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			binding, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			res := c.app.Evaluate(ctx, string(src), binding)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printEval(cmd.OutOrStdout(), res)
			}
			if len(res.Errors) > 0 {
				e := res.Errors[0]
				return caderr.New(kindFromName(e.Kind), "%s", e.Message)
			}
			if out == "" {
				return nil
			}
			if _, err := c.app.AddCode(ctx, args[0], string(src), binding); err != nil {
				return err
			}
			return c.app.ExportSTL(out)
		},
	}
	cmd.Flags().StringArrayVarP(&rawParams, "param", "p", nil, "parameter value as name=value (repeatable)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the result as STL")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print meshes and errors as JSON")
	return cmd
}

func (c *cli) templatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the template library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			for _, t := range c.app.library.List() {
				fmt.Fprintf(w, "%-14s %-12s %-8s %s\n", t.ID, t.Category, t.Difficulty, t.Name)
				for _, d := range t.Parameters {
					fmt.Fprintf(w, "    %-14s %s = %s\n", d.Name, d.Kind, d.Default)
				}
			}
			return nil
		},
	}
}

func (c *cli) templateCmd() *cobra.Command {
	var (
		rawParams []string
		out       string
	)
	cmd := &cobra.Command{
		Use:   "template <id>",
		Short: "Instantiate a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			binding, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			obj, err := c.app.AddTemplate(cmd.Context(), args[0], binding)
			if err != nil {
				return err
			}
			printObject(cmd.OutOrStdout(), obj)
			if out == "" {
				return nil
			}
			return c.app.ExportSTL(out)
		},
	}
	cmd.Flags().StringArrayVarP(&rawParams, "param", "p", nil, "parameter value as name=value (repeatable)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the result as STL")
	return cmd
}

func (c *cli) generateCmd() *cobra.Command {
	var (
		out  string
		save bool
	)
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate a design from a prompt and compile it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if c.cfg.GenerationURL == "" {
				return caderr.New(caderr.GenerationError, "no generation service configured")
			}
			client := genclient.New(c.cfg.GenerationURL,
				genclient.WithTimeout(c.cfg.GenerationTimeout),
				genclient.WithToken(c.cfg.GenerationToken),
				genclient.WithLogger(c.logger),
			)
			defer client.Close()

			obj, outcome, err := c.app.Generate(ctx, client, strings.Join(args, " "))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printObject(w, obj)
			if outcome.Design.Description != "" {
				fmt.Fprintln(w, outcome.Design.Description)
			}
			if save {
				id, err := c.app.Save(ctx, obj.ID, editor.Meta{
					Description: outcome.Design.Description,
					Category:    outcome.Design.Category,
					Difficulty:  outcome.Design.Difficulty,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "saved %s\n", id)
			}
			if out == "" {
				return nil
			}
			return c.app.ExportSTL(out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the result as STL")
	cmd.Flags().BoolVar(&save, "save", false, "store the design in the model directory")
	return cmd
}

func (c *cli) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List saved models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.app.store == nil {
				return caderr.New(caderr.SaveError, "no storage directory configured")
			}
			ids, err := c.app.store.List()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, id := range ids {
				rec, err := c.app.store.Load(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s  %-24s %s\n", rec.ID, rec.Name, rec.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

// parseParams turns name=value pairs into a binding. true and false are
// booleans; anything else must parse as a number.
func parseParams(raw []string) (params.Binding, error) {
	b := make(params.Binding, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, caderr.New(caderr.InvalidParameter, "parameter %q must be name=value", kv)
		}
		value = strings.TrimSpace(value)
		switch value {
		case "true", "false":
			b[name] = params.Bool(value == "true")
			continue
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, caderr.New(caderr.InvalidParameter, "parameter %q: %q is not a number or bool", name, value)
		}
		b[name] = params.Num(f)
	}
	return b, nil
}

func kindFromName(name string) caderr.Kind {
	for _, k := range []caderr.Kind{caderr.ScriptError, caderr.GeometryError, caderr.InvalidGeometry, caderr.InvalidParameter, caderr.Timeout, caderr.Cancelled} {
		if k.String() == name {
			return k
		}
	}
	return caderr.KindUnknown
}

func printEval(w io.Writer, res EvalResult) {
	for _, e := range res.Errors {
		if e.Line > 0 {
			fmt.Fprintf(w, "error: line %d: %s: %s\n", e.Line, e.Kind, e.Message)
		} else {
			fmt.Fprintf(w, "error: %s: %s\n", e.Kind, e.Message)
		}
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn.Message)
	}
	for _, m := range res.Meshes {
		fmt.Fprintf(w, "%-12s %s %6d triangles\n", m.PartName, m.Color, len(m.Indices)/3)
	}
	fmt.Fprintf(w, "compiled in %s\n", res.Elapsed)
}

func printObject(w io.Writer, obj *scene.Object) {
	min, max := obj.Bounds()
	fmt.Fprintf(w, "%s %q %.1f x %.1f x %.1f\n", obj.ID.String()[:8], obj.Name, max[0]-min[0], max[1]-min[1], max[2]-min[2])
}
