package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/params"
	"github.com/google/go-cmp/cmp"
)

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"width=12.5", " hollow = true ", "lid=false", "n=-3"})
	if err != nil {
		t.Fatal(err)
	}
	want := params.Binding{
		"width":  params.Num(12.5),
		"hollow": params.Bool(true),
		"lid":    params.Bool(false),
		"n":      params.Num(-3),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("binding mismatch (-want +got):\n%s", diff)
	}
}

func TestParseParamsErrors(t *testing.T) {
	for _, raw := range []string{"width", "=3", "width=wide"} {
		t.Run(raw, func(t *testing.T) {
			if _, err := parseParams([]string{raw}); caderr.KindOf(err) != caderr.InvalidParameter {
				t.Errorf("err = %v, want InvalidParameter", err)
			}
		})
	}
}

// writeConfig points storage and mesh resolution at test-friendly values.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "partsmith.hcl")
	src := "mesh_cells = 32\n\nstorage {\n  dir = \"" + filepath.ToSlash(filepath.Join(dir, "models")) + "\"\n}\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--config", writeConfig(t), "--log-level", "error"}, args...)
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestTemplatesCommand(t *testing.T) {
	out, err := runCLI(t, "templates")
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"rounded-cube", "tray", "bracket", "spacer"} {
		if !strings.Contains(out, id) {
			t.Errorf("output missing %q:\n%s", id, out)
		}
	}
}

func TestCompileCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "block.cad")
	if err := os.WriteFile(src, []byte(`(box (param :w) 10 10)`), 0o644); err != nil {
		t.Fatal(err)
	}
	stl := filepath.Join(dir, "block.stl")

	out, err := runCLI(t, "compile", src, "--json", "-p", "w=15", "--out", stl)
	if err != nil {
		t.Fatal(err)
	}
	var res EvalResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(res.Errors) != 0 || len(res.Meshes) != 1 {
		t.Errorf("result: %d errors, %d meshes", len(res.Errors), len(res.Meshes))
	}
	if _, err := os.Stat(stl); err != nil {
		t.Errorf("stl not written: %v", err)
	}
}

func TestCompileCommandFailure(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bad.cad")
	if err := os.WriteFile(src, []byte(`(sphere -2)`), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := runCLI(t, "compile", src)
	if caderr.KindOf(err) != caderr.GeometryError {
		t.Fatalf("err = %v, want GeometryError", err)
	}
	if exitCode(err) != 3 {
		t.Errorf("exit code = %d, want 3", exitCode(err))
	}
	if !strings.Contains(out, "error: GeometryError") {
		t.Errorf("output = %q", out)
	}
}

func TestTemplateCommandBadParam(t *testing.T) {
	_, err := runCLI(t, "template", "spacer", "-p", "height=900")
	if exitCode(err) != 2 {
		t.Errorf("err = %v, exit code = %d, want 2", err, exitCode(err))
	}
}

func TestGenerateRequiresService(t *testing.T) {
	_, err := runCLI(t, "generate", "a", "hook")
	if !strings.Contains(err.Error(), "no generation service configured") {
		t.Errorf("err = %v", err)
	}
}

func TestModelsCommandEmpty(t *testing.T) {
	out, err := runCLI(t, "models")
	if err != nil {
		t.Fatal(err)
	}
	if out != "" {
		t.Errorf("output = %q, want nothing", out)
	}
}
