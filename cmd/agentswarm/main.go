// Command agentswarm runs the agents of a workflow file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentswarm"
	"github.com/hupe1980/agentswarm/agent"
	"github.com/hupe1980/agentswarm/config"
	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/workflow"
)

var (
	errMissingTask  = errors.New("a task is required (argument or --task-file)")
	errResumeSource = errors.New("exactly one of --checkpoint or --task is required")
)

func main() {
	if err := execute(os.Args[1:], os.Stdout); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func execute(args []string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(out)
	cmd.SetArgs(args)

	return cmd.ExecuteContext(ctx)
}

func newRootCmd(out io.Writer) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "agentswarm",
		Short:         "agentswarm runs LLM agents concurrently against a shared task",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "agentswarm.yaml", "Path to the workflow file (yaml or toml)")
	cmd.SetOut(out)

	cmd.AddCommand(newRunCmd(&configPath), newResumeCmd(&configPath))

	return cmd
}

func newRunCmd(configPath *string) *cobra.Command {
	var taskFile string

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run the workflow on a task",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := readTask(args, taskFile)
			if err != nil {
				return err
			}

			swarm, err := openSwarm(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer swarm.Close() //nolint:errcheck

			results, err := swarm.Run(cmd.Context(), task)
			if err != nil {
				return err
			}

			printResults(cmd.OutOrStdout(), results)

			for _, r := range results {
				if r.Err != nil {
					return errors.New("one or more agents failed")
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&taskFile, "task-file", "", "Read the task from a file")

	return cmd
}

func newResumeCmd(configPath *string) *cobra.Command {
	var agentName, checkpointPath, task string

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume one agent from a checkpoint file or its checkpoint store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (checkpointPath == "") == (task == "") {
				return errResumeSource
			}

			swarm, err := openSwarm(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer swarm.Close() //nolint:errcheck

			var res *agent.Result
			if checkpointPath != "" {
				res, err = swarm.ResumeFile(cmd.Context(), agentName, checkpointPath)
			} else {
				res, err = swarm.ResumeTask(cmd.Context(), agentName, task)
			}

			if err != nil {
				return err
			}

			printAgentResult(cmd.OutOrStdout(), agentName, res)

			return nil
		},
	}

	cmd.Flags().StringVar(&agentName, "agent", "", "Name of the agent to resume")
	cmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "Checkpoint file (.json or .json.zst)")
	cmd.Flags().StringVar(&task, "task", "", "Task whose checkpoint is loaded from the configured store")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}

func openSwarm(ctx context.Context, path string) (*agentswarm.Swarm, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(cfg.Logging.LoggerConfig())

	return agentswarm.New(ctx, cfg, func(o *agentswarm.Options) {
		o.Logger = logger
	})
}

func readTask(args []string, taskFile string) (string, error) {
	var task string

	switch {
	case len(args) == 1:
		task = args[0]
	case taskFile != "":
		data, err := os.ReadFile(taskFile)
		if err != nil {
			return "", fmt.Errorf("read task file: %w", err)
		}

		task = string(data)
	}

	task = strings.TrimSpace(task)
	if task == "" {
		return "", errMissingTask
	}

	return task, nil
}

func printResults(w io.Writer, results []workflow.Result) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	dim := color.New(color.Faint)

	for _, r := range results {
		_, _ = cyan.Fprintf(w, "== %s ", r.AgentName)
		_, _ = dim.Fprintf(w, "(%s, %s)\n", r.State, r.Duration().Round(time.Millisecond))

		if r.Err != nil {
			_, _ = red.Fprintf(w, "%v\n\n", r.Err)
			continue
		}

		_, _ = green.Fprintf(w, "%s\n\n", r.Output)
	}
}

func printAgentResult(w io.Writer, name string, res *agent.Result) {
	_, _ = color.New(color.FgCyan, color.Bold).Fprintf(w, "== %s ", name)
	_, _ = color.New(color.Faint).Fprintf(w, "(%s, %d iterations)\n", res.State, res.Iterations)
	_, _ = color.New(color.FgGreen).Fprintf(w, "%s\n", res.Output)
}
