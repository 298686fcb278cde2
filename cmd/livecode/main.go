// Command livecode runs code snippets through the sandbox pipeline from the
// command line.
//
//	livecode run hello.py                       Run a file, runtime from its extension
//	livecode run -r python-canvas draw.py --raw Print every message as JSON
//	livecode runtimes                           List configured runtimes
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/isdmx/livecode/config"
)

var (
	version    = "dev"
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "livecode",
	Short:         "Run untrusted code in ephemeral sandboxes",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv(config.ConfigFileEnv), "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")
}

// exitError carries the sandbox's exit status out of a command.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
