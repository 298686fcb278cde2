package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/isdmx/livecode/config"
	"github.com/isdmx/livecode/logger"
	"github.com/isdmx/livecode/runtimes"
	"github.com/isdmx/livecode/sandbox"
)

type runOptions struct {
	runtime string
	files   []string
	env     []string
	command string
	raw     bool
}

var runFlags runOptions

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Execute a source file in a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.runtime, "runtime", "r", "", "runtime (default: inferred from the file extension)")
	runCmd.Flags().StringArrayVarP(&runFlags.files, "file", "f", nil, "additional file to place next to the code (repeatable)")
	runCmd.Flags().StringArrayVarP(&runFlags.env, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	runCmd.Flags().StringVar(&runFlags.command, "command", "", "command overriding the runtime's default")
	runCmd.Flags().BoolVar(&runFlags.raw, "raw", false, "print every message as a JSON line")
	rootCmd.AddCommand(runCmd)
}

var extensionRuntimes = map[string]string{
	".py": "python",
	".js": "javascript",
	".go": "golang",
	".rs": "rust",
}

func runtimeForFile(path string) (string, error) {
	name, ok := extensionRuntimes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", fmt.Errorf("cannot infer runtime of %s, use --runtime", path)
	}
	return name, nil
}

func parseEnvFlags(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(values))
	for _, kv := range values {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
		}
		env[k] = v
	}
	return env, nil
}

// buildRequest reads path and the extra files. The code keeps the runtime's
// default filename, which the default commands name explicitly, unless a
// custom command is given.
func buildRequest(path string, opts runOptions) (sandbox.Request, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return sandbox.Request{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	req := sandbox.Request{
		Runtime: opts.runtime,
		Code:    string(code),
	}
	if req.Runtime == "" {
		if req.Runtime, err = runtimeForFile(path); err != nil {
			return req, err
		}
	}

	for _, f := range opts.files {
		data, err := os.ReadFile(f)
		if err != nil {
			return req, fmt.Errorf("failed to read %s: %w", f, err)
		}
		req.Files = append(req.Files, sandbox.File{Filename: filepath.Base(f), Contents: string(data)})
	}

	if req.Env, err = parseEnvFlags(opts.env); err != nil {
		return req, err
	}
	if opts.command != "" {
		if req.Command, err = shlex.Split(opts.command); err != nil {
			return req, fmt.Errorf("invalid --command: %w", err)
		}
		req.CodeFilename = filepath.Base(path)
	}
	return req, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(args[0], runFlags)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	log, err := logger.New("development", logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	executor, err := sandbox.NewExecutor(log, cfg, runtimes.New(cfg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := execute(ctx, cmd.OutOrStdout(), executor, req, runFlags.raw)
	if err != nil {
		return err
	}
	log.Debug("sandbox exited", zap.Int("exit_status", code))
	if code != 0 {
		return exitError{code: code}
	}
	return nil
}

// execute streams the session to out and returns its exit status.
func execute(ctx context.Context, out io.Writer, executor sandbox.SandboxExecutor, req sandbox.Request, raw bool) (int, error) {
	messages, err := executor.Execute(ctx, req)
	if err != nil {
		return -1, err
	}

	enc := json.NewEncoder(out)
	code := -1
	for msg := range messages {
		if raw {
			if err := enc.Encode(msg); err != nil {
				return -1, err
			}
		}
		switch m := msg.(type) {
		case sandbox.Write:
			if !raw {
				if _, err := io.WriteString(out, m.Data); err != nil {
					return -1, err
				}
			}
		case sandbox.ExitStatus:
			code = m.Code
		case sandbox.Control:
		}
	}
	return code, nil
}
