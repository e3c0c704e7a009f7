package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lexcodex/agentcore/agents"
	"github.com/lexcodex/agentcore/framework"
)

// runFlags are the per-invocation overrides shared by run and batch.
type runFlags struct {
	strategy      string
	maxIterations int
	sandbox       string
	script        string
	enableShell   bool
	jsonOutput    bool
	constraints   map[string]string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "Strategy: cot or react")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "ReAct iteration budget")
	cmd.Flags().StringVar(&f.sandbox, "sandbox", "", "Sandbox root directory")
	cmd.Flags().StringVar(&f.script, "script", "", "Replay model responses from a YAML script instead of calling Ollama")
	cmd.Flags().BoolVar(&f.enableShell, "enable-shell", false, "Register shell_exec")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "Print results as JSON")
	cmd.Flags().StringToStringVar(&f.constraints, "constraint", nil, "Task constraint key=value (repeatable)")
}

// apply returns a copy of cfg with the flags that were set on cmd.
func (f *runFlags) apply(cmd *cobra.Command, cfg *agents.Config) (*agents.Config, error) {
	out := *cfg
	flags := cmd.Flags()
	if flags.Changed("strategy") {
		out.Strategy = strings.ToLower(f.strategy)
	}
	if flags.Changed("max-iterations") {
		out.MaxIterations = f.maxIterations
	}
	if flags.Changed("sandbox") {
		out.SandboxDir = f.sandbox
	}
	if flags.Changed("script") {
		out.Model.Provider = "scripted"
		out.Model.Script = f.script
	}
	if flags.Changed("enable-shell") {
		out.EnableShellExecution = f.enableShell
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run a single task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.apply(cmd, globalCfg)
			if err != nil {
				return err
			}
			env, err := agents.Bootstrap(cfg, logger)
			if err != nil {
				return err
			}
			defer env.Close()
			agent, err := env.Agent("")
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			task := framework.NewTask(strings.Join(args, " "), flags.constraints)
			result, runErr := agent.Run(ctx, task)
			if result == nil {
				return runErr
			}
			if err := writeResult(cmd.OutOrStdout(), result, flags.jsonOutput); err != nil {
				return err
			}
			if result.Status != framework.StatusCompleted {
				return fmt.Errorf("run %s: %s", result.Status, result.Error)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newBatchCmd() *cobra.Command {
	var (
		flags    runFlags
		parallel int
	)
	cmd := &cobra.Command{
		Use:   "batch [file]",
		Short: "Run one task per line, each in its own sandbox subdirectory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := readTaskFile(args[0])
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				return errors.New("no tasks in file")
			}
			cfg, err := flags.apply(cmd, globalCfg)
			if err != nil {
				return err
			}
			env, err := agents.Bootstrap(cfg, logger)
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			results, err := runBatch(ctx, env, tasks, flags.constraints, parallel)
			if err != nil {
				return err
			}
			failed := 0
			for _, result := range results {
				if result.Status != framework.StatusCompleted {
					failed++
				}
			}
			if flags.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				for i, result := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n", renderBatchLine(i+1, result))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tasks did not complete", failed, len(results))
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 2, "Maximum concurrent runs")
	return cmd
}

// runBatch runs every task concurrently up to limit, each confined to
// <sandbox>/task-NNN. Run failures are reported in the results; only setup
// errors abort the batch.
func runBatch(ctx context.Context, env *agents.Environment, tasks []string, constraints map[string]string, limit int) ([]*framework.AgentResult, error) {
	if limit <= 0 {
		limit = 1
	}
	results := make([]*framework.AgentResult, len(tasks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, instruction := range tasks {
		g.Go(func() error {
			agent, err := env.Agent(filepath.Join(env.Config.SandboxDir, fmt.Sprintf("task-%03d", i+1)))
			if err != nil {
				return err
			}
			result, runErr := agent.Run(ctx, framework.NewTask(instruction, constraints))
			if result == nil {
				return runErr
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// readTaskFile returns the non-empty lines of path, skipping # comments.
func readTaskFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tasks []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tasks = append(tasks, line)
	}
	return tasks, scanner.Err()
}
