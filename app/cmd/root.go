package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lexcodex/agentcore/agents"
)

var (
	cfgFile string
	verbose bool

	globalCfg *agents.Config
	logger    *zap.Logger
)

// Execute is the entry point for the CLI.
func Execute() {
	if err := executeRoot(NewRootCmd()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// executeRoot runs root and flushes the logger whether or not the command
// failed; cobra skips post-run hooks after an error.
func executeRoot(root *cobra.Command) error {
	defer func() {
		if logger != nil {
			_ = logger.Sync()
		}
	}()
	return root.Execute()
}

// NewRootCmd wires the cobra tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentcore",
		Short:         "Run LLM agents against a sandboxed workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := agents.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			globalCfg = cfg
			logger, err = newLogger(cfg.Logging, verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to agentcore.yaml (default ./agentcore.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(
		newRunCmd(),
		newBatchCmd(),
		newToolsCmd(),
		newTemplatesCmd(),
		newRunsCmd(),
		newConfigCmd(),
		newServeCmd(),
	)
	return root
}

// newLogger builds the process logger. Logs go to stderr so --json output
// stays machine readable.
func newLogger(cfg agents.LoggingConfig, verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if cfg.Development {
		config = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		config.Level = level
	}
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.OutputPaths = []string{"stderr"}
	return config.Build()
}
