package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipforge/toolhost/pkg/client"
)

type apiFlags struct {
	URL     string
	Timeout time.Duration
}

func (f *apiFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.URL, "api-url", client.DefaultConfig().BaseURL, "base URL of the toolhost API")
	cmd.Flags().DurationVar(&f.Timeout, "api-timeout", 10*time.Second, "API request timeout")
}

func (f *apiFlags) client() *client.Client {
	return client.New(client.Config{BaseURL: f.URL, Timeout: f.Timeout})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStartCmd() *cobra.Command {
	var api apiFlags
	var spec client.ProcessSpec
	var envKVs []string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a supervised tool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(envKVs) > 0 {
				spec.Env = make(map[string]string, len(envKVs))
				for _, kv := range envKVs {
					k, v, ok := cutKV(kv)
					if !ok {
						return fmt.Errorf("invalid --env %q: want KEY=VALUE", kv)
					}
					spec.Env[k] = v
				}
			}
			started, err := api.client().Start(cmd.Context(), spec)
			if err != nil {
				return err
			}
			if !started {
				fmt.Printf("%s is already supervised\n", spec.ID)
				return nil
			}
			fmt.Printf("%s started\n", spec.ID)
			return nil
		},
	}
	api.register(cmd)
	cmd.Flags().StringVar(&spec.ID, "id", "", "process id (required)")
	cmd.Flags().StringVar(&spec.Command, "command", "", "command line to run (required)")
	cmd.Flags().StringVar(&spec.WorkDir, "workdir", "", "working directory")
	cmd.Flags().StringArrayVar(&envKVs, "env", nil, "KEY=VALUE environment override (repeatable)")
	cmd.Flags().StringVar(&spec.HealthURL, "health-url", "", "HTTP readiness probe URL")
	cmd.Flags().DurationVar(&spec.HealthTimeout, "health-timeout", 0, "readiness window")
	cmd.Flags().BoolVar(&spec.AutoRestart, "autorestart", false, "restart after unexpected exit")
	cmd.Flags().DurationVar(&spec.RestartBackoff, "restart-backoff", 0, "delay before restart")
	cmd.Flags().DurationVar(&spec.StopGrace, "stop-grace", 0, "graceful stop window")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func newStopCmd() *cobra.Command {
	var api apiFlags
	var id string
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a supervised tool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := api.client().Stop(cmd.Context(), id, grace); err != nil {
				return err
			}
			fmt.Printf("%s stopped\n", id)
			return nil
		},
	}
	api.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "process id (required)")
	cmd.Flags().DurationVar(&grace, "grace", 0, "graceful stop window (0 uses the spec's)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var api apiFlags
	var id string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tool status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := api.client()
			if id != "" {
				st, err := c.Status(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(st)
			}
			sts, err := c.StatusAll(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(sts)
		},
	}
	api.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "process id (omit for all)")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var api apiFlags
	var id string
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Tail a tool's log file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ll, err := api.client().Logs(cmd.Context(), id, lines)
			if err != nil {
				return err
			}
			for _, line := range ll.Lines {
				fmt.Println(line)
			}
			return nil
		},
	}
	api.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "process id (required)")
	cmd.Flags().IntVar(&lines, "lines", 100, "number of lines from the end")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newRunCmd() *cobra.Command {
	var api apiFlags
	var req client.RunRequest
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a one-shot tool and wait for its output",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// the run may legitimately take much longer than an API call
			ctx := context.WithoutCancel(cmd.Context())
			res, err := api.client().Run(ctx, req)
			if res.Stdout != "" {
				fmt.Print(res.Stdout)
			}
			if res.Stderr != "" {
				_, _ = fmt.Fprint(os.Stderr, res.Stderr)
			}
			if err != nil {
				return err
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("tool exited with code %d", res.ExitCode)
			}
			return nil
		},
	}
	api.register(cmd)
	cmd.Flags().StringVar(&req.Spec.ID, "id", "", "process id (required)")
	cmd.Flags().StringVar(&req.Spec.Command, "command", "", "command line to run (required)")
	cmd.Flags().StringVar(&req.Spec.WorkDir, "workdir", "", "working directory")
	cmd.Flags().DurationVar(&req.Timeout, "timeout", 0, "wall-clock budget (0 uses the server default)")
	cmd.Flags().StringVar(&req.JobID, "job-id", "", "editing job this run belongs to")
	cmd.Flags().StringVar(&req.Stdin, "stdin", "", "text to feed the tool's stdin")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func newShutdownCmd() *cobra.Command {
	var api apiFlags
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the daemon to tear itself down",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := api.client().Shutdown(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("shutdown requested")
			return nil
		},
	}
	api.register(cmd)
	return cmd
}

func cutKV(kv string) (k, v string, ok bool) {
	k, v, ok = strings.Cut(kv, "=")
	return k, v, ok && k != ""
}
