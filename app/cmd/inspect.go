package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexcodex/agentcore/agents"
	"github.com/lexcodex/agentcore/framework"
	"github.com/lexcodex/agentcore/persistence"
	"github.com/lexcodex/agentcore/tools"
)

func newToolsCmd() *cobra.Command {
	var (
		asJSON      bool
		enableShell bool
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Describe the registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *globalCfg
			if cmd.Flags().Changed("enable-shell") {
				cfg.EnableShellExecution = enableShell
			}
			env, err := agents.Bootstrap(&cfg, logger)
			if err != nil {
				return err
			}
			defer env.Close()
			agent, err := env.Agent("")
			if err != nil {
				return err
			}
			schemas := agent.Tools().DescribeAll()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), schemas)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderToolSchemas(schemas))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print schemas as JSON")
	cmd.Flags().BoolVar(&enableShell, "enable-shell", false, "Include shell_exec")
	return cmd
}

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List code generation templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := tools.LoadTemplateSet(globalCfg.TemplatesFile)
			if err != nil {
				return err
			}
			for _, name := range set.Names() {
				tmpl, _ := set.Get(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", headerStyle.Render(name), dimStyle.Render("("+strings.Join(tmpl.Variables(), ", ")+")"))
				if tmpl.Description != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", tmpl.Description)
				}
			}
			return nil
		},
	}
	cmd.AddCommand(newTemplatesRenderCmd())
	return cmd
}

// newTemplatesRenderCmd renders a template with key=value variables.
func newTemplatesRenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render [name] [key=value...]",
		Short: "Render a template to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := tools.LoadTemplateSet(globalCfg.TemplatesFile)
			if err != nil {
				return err
			}
			vars := make(map[string]interface{}, len(args)-1)
			for _, pair := range args[1:] {
				key, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("variable %q is not key=value", pair)
				}
				vars[key] = value
			}
			out, err := set.Generate(args[0], vars)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect archived runs",
	}
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd(), newRunsDeleteCmd(), newRunsAuditCmd())
	return cmd
}

func openStore() (*persistence.RunStore, error) {
	if globalCfg.Store.Path == "" {
		return nil, errors.New("no run archive configured (set store.path)")
	}
	return persistence.OpenRunStore(globalCfg.Store.Path)
}

func newRunsListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderRunSummaries(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show an archived run with its trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			result, err := store.LoadRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), result, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [run-id...]",
		Short: "Remove archived runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			for _, id := range args {
				if err := store.DeleteRun(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}

// newRunsAuditCmd lists the denied tool actions archived with runs.
func newRunsAuditCmd() *cobra.Command {
	var (
		action string
		tool   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "audit [run-id]",
		Short: "List denied tool actions, optionally for one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			filter := framework.AuditQuery{Action: framework.AuditAction(action), Tool: tool}
			if len(args) == 1 {
				filter.RunID = args[0]
			}
			records, err := store.QueryAudit(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				if records == nil {
					records = []framework.AuditRecord{}
				}
				return writeJSON(cmd.OutOrStdout(), records)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderAuditRecords(records))
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "Filter by action (file_access, exec, tool)")
	cmd.Flags().StringVar(&tool, "tool", "", "Filter by tool name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
