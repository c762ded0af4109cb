// Package sandbox executes generated plotly code in a separate Python process.
//
// Every run gets its own working directory, a restricted environment, a memory
// rlimit and a hard timeout. The harness exposes pd, json, go and file_path to
// the code, requires it to assign fig, and writes the figure JSON and PNG.
package sandbox

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainlens-core/server/internal/agent/model"
	logx "github.com/chainlens-core/server/pkg/logger"
)

//go:embed harness.py
var harnessScript []byte

const (
	defaultTimeout = 60 * time.Second
	maxOutputBytes = 64 * 1024
	waitDelay      = 2 * time.Second
)

// environment variables passed through to the interpreter
var allowedEnvironment = []string{"PATH", "PYTHONPATH", "VIRTUAL_ENV", "CONDA_PREFIX", "LANG", "LC_ALL", "TZ", "SYSTEMROOT"}

// Job is one execution request.
type Job struct {
	Code          string
	DataPath      string
	OutputPNGPath string
}

// Result holds the figure of a successful run.
type Result struct {
	FigJSON  string
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExecError is a failure of the generated code itself: validation, a Python
// exception, a missing fig or a timeout. The message is fed back to the model.
type ExecError struct {
	Message   string
	Traceback string
}

func (e *ExecError) Error() string { return e.Message }

// Executor runs plot code. Runner is the production implementation.
type Executor interface {
	Run(ctx context.Context, job Job) (*Result, error)
}

type Runner struct {
	python    string
	timeout   time.Duration
	memoryMB  int
	validator *Validator
	log       zerolog.Logger
}

func NewRunner(cfg model.SandboxConfig) *Runner {
	r := &Runner{
		python:    cfg.PythonBin,
		timeout:   cfg.Timeout,
		memoryMB:  cfg.MemoryLimitMB,
		validator: NewValidator(),
		log:       logx.Component("sandbox"),
	}
	if r.python == "" {
		r.python = "python3"
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	return r
}

func (r *Runner) Validator() *Validator { return r.validator }

type harnessOutput struct {
	OK        bool   `json:"ok"`
	FigJSON   string `json:"fig_json"`
	Error     string `json:"error"`
	Traceback string `json:"traceback"`
}

func (r *Runner) Run(ctx context.Context, job Job) (*Result, error) {
	if err := r.validator.Validate(job.Code); err != nil {
		r.log.Warn().Err(err).Msg("Plot code rejected before execution")
		return nil, err
	}

	dataPath, err := filepath.Abs(job.DataPath)
	if err != nil {
		return nil, fmt.Errorf("resolve data path: %w", err)
	}
	pngPath, err := filepath.Abs(job.OutputPNGPath)
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(pngPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	work, err := os.MkdirTemp("", "chainlens-plot-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox dir: %w", err)
	}
	defer os.RemoveAll(work)

	harness := filepath.Join(work, "harness.py")
	codePath := filepath.Join(work, "plot.py")
	resultPath := filepath.Join(work, "result.json")
	scratchPNG := filepath.Join(work, "figure.png")
	if err := os.WriteFile(harness, harnessScript, 0o600); err != nil {
		return nil, fmt.Errorf("write harness: %w", err)
	}
	if err := os.WriteFile(codePath, []byte(job.Code), 0o600); err != nil {
		return nil, fmt.Errorf("write plot code: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.python, harness,
		codePath, dataPath, scratchPNG, resultPath, strconv.Itoa(r.memoryMB))
	cmd.Dir = work
	cmd.Env = buildEnvironment(work)
	cmd.WaitDelay = waitDelay
	setupProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, max: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, max: maxOutputBytes}

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: elapsed}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		r.log.Warn().Dur("timeout", r.timeout).Msg("Plot execution timed out")
		return nil, &ExecError{Message: fmt.Sprintf("TimeoutError: plot code did not finish within %s", r.timeout)}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	out, readErr := readHarnessOutput(resultPath)
	if readErr != nil {
		if runErr != nil {
			// killed before the harness could report, e.g. by the memory limit
			return nil, &ExecError{
				Message:   fmt.Sprintf("ProcessError: %v", runErr),
				Traceback: strings.TrimSpace(res.Stderr),
			}
		}
		return nil, fmt.Errorf("read sandbox result: %w", readErr)
	}
	if !out.OK {
		r.log.Debug().Dur("elapsed", elapsed).Str("error", out.Error).Msg("Plot code failed")
		return nil, &ExecError{Message: out.Error, Traceback: out.Traceback}
	}
	if out.FigJSON == "" {
		return nil, &ExecError{Message: "ValueError: the figure serialized to an empty JSON document"}
	}
	if _, err := os.Stat(scratchPNG); err != nil {
		return nil, &ExecError{Message: "OSError: the figure was not rendered to PNG"}
	}
	if err := copyFile(scratchPNG, pngPath); err != nil {
		return nil, fmt.Errorf("store png: %w", err)
	}

	res.FigJSON = out.FigJSON
	r.log.Debug().
		Dur("elapsed", elapsed).
		Str("output_png_path", pngPath).
		Int("fig_json_bytes", len(out.FigJSON)).
		Msg("Plot executed")
	return res, nil
}

func readHarnessOutput(path string) (*harnessOutput, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out harnessOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode harness result: %w", err)
	}
	return &out, nil
}

// copyFile is used instead of os.Rename because the sandbox dir may live on
// another filesystem.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func buildEnvironment(home string) []string {
	env := make([]string, 0, len(allowedEnvironment)+4)
	for _, key := range allowedEnvironment {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}
	return append(env,
		"HOME="+home,
		"MPLCONFIGDIR="+home,
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONIOENCODING=utf-8",
	)
}

// limitedWriter drops output beyond max bytes.
type limitedWriter struct {
	w       io.Writer
	max     int
	written int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if remaining := lw.max - lw.written; remaining < n {
		if remaining <= 0 {
			return n, nil
		}
		p = p[:remaining]
	}
	written, err := lw.w.Write(p)
	lw.written += written
	return n, err
}

var _ Executor = (*Runner)(nil)
