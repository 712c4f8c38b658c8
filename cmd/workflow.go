package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hive/internal/bootstrap"
	"github.com/nextlevelbuilder/hive/internal/config"
	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/workflow"
)

func workflowCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect and run workflows",
	}
	cmd.PersistentFlags().StringVar(&userID, "user", "local", "owner of the workflows")

	cmd.AddCommand(workflowListCmd(&userID))
	cmd.AddCommand(workflowShowCmd(&userID))
	cmd.AddCommand(workflowRunCmd(&userID))

	return cmd
}

func workflowListCmd(userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			flows, err := st.Workflows.ListForUser(cmd.Context(), *userID)
			if err != nil {
				return fmt.Errorf("list workflows: %w", err)
			}
			if len(flows) == 0 {
				fmt.Println("No workflows. Ask the assistant to create one.")
				return nil
			}
			for _, wf := range flows {
				state := "active"
				if !wf.IsActive {
					state = "inactive"
				}
				steps, _ := workflow.ParseSteps(wf.StepsJSON)
				fmt.Printf("%-36s  %-8s  %2d steps  %s\n", wf.ID, state, len(steps), wf.Name)
			}
			return nil
		},
	}
}

func workflowShowCmd(userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show a workflow's steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			wf, err := st.Workflows.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load workflow: %w", err)
			}
			if wf.OwnerID != *userID {
				return fmt.Errorf("workflow %s does not belong to user %s", wf.ID, *userID)
			}

			state := "active"
			if !wf.IsActive {
				state = "inactive"
			}
			fmt.Printf("%s (%s)\n", wf.Name, state)
			fmt.Printf("  id:      %s\n", wf.ID)
			fmt.Printf("  owner:   %s\n", wf.OwnerID)
			fmt.Printf("  updated: %s\n", wf.UpdatedAt.Format(time.RFC3339))

			steps, err := workflow.ParseSteps(wf.StepsJSON)
			if err != nil {
				return fmt.Errorf("parse steps: %w", err)
			}
			fmt.Println("  steps:")
			for i, s := range steps {
				fmt.Printf("    %d. %-7s %-20s %s\n", i+1, s.Type, s.ID, stepTarget(s))
				names := make([]string, 0, len(s.Inputs))
				for name := range s.Inputs {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Printf("         %s: %s\n", name, describeInput(s.Inputs[name]))
				}
			}
			return nil
		},
	}
}

func workflowRunCmd(userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Run a workflow and print the step report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			dataDir := cfg.DataDirPath()
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			st, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if err := bootstrap.Seed(cmd.Context(), st, dataDir); err != nil {
				return fmt.Errorf("seed data dir: %w", err)
			}
			deps, err := buildPipeline(cfg, st, dataDir)
			if err != nil {
				return fmt.Errorf("build pipeline: %w", err)
			}
			defer deps.skills.Close()

			report, err := deps.engine.ExecuteWorkflow(cmd.Context(), args[0], *userID)
			if err != nil {
				return fmt.Errorf("run workflow: %w", err)
			}
			printRunReport(report)
			if report.Status != store.RunStatusCompleted {
				return fmt.Errorf("workflow finished with status %s", report.Status)
			}
			return nil
		},
	}
}

func printRunReport(r *workflow.RunReport) {
	fmt.Printf("Run %s: %s (%s)\n", r.RunID, r.Status, time.Duration(r.TotalDurationMs)*time.Millisecond)
	for _, s := range r.Steps {
		fmt.Printf("  %-20s %-10s %s\n", s.ID, s.Status, time.Duration(s.DurationMs)*time.Millisecond)
		if s.Error != "" {
			fmt.Printf("    error: %s\n", s.Error)
		}
	}
	if r.Error != "" {
		fmt.Printf("Error: %s\n", r.Error)
	}
}

func stepTarget(s workflow.StepDefinition) string {
	switch s.Type {
	case workflow.StepScript:
		return "script " + s.ScriptID
	case workflow.StepSkill:
		return "skill " + s.SkillName
	case workflow.StepNotify:
		return "notify via " + s.Channel
	}
	return ""
}

func describeInput(in workflow.InputMapping) string {
	switch in.Type {
	case workflow.InputStatic:
		return fmt.Sprintf("%v", in.Value)
	case workflow.InputRef:
		return "from " + in.Source
	case workflow.InputCredential:
		return "credential " + in.CredentialName
	}
	return in.Type
}
