package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lyzr/appforge/common/models"
)

func (c *cli) deployCmd() *cobra.Command {
	var (
		provider string
		wait     bool
	)
	cmd := &cobra.Command{
		Use:   "deploy <generation-id>",
		Short: "Deploy a completed generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			job, err := c.api().Deploy(cmd.Context(), id, provider, wait)
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return c.printJSON(job)
			}

			switch job.Status {
			case models.DeploymentSucceeded:
				fmt.Fprintf(c.out, "deployed to %s: %s\n", job.Provider, *job.URL)
			case models.DeploymentFailed:
				return fmt.Errorf("deployment %s failed: %s", job.ID, *job.Error)
			default:
				fmt.Fprintf(c.out, "deployment %s %s on %s\n", job.ID, job.Status, job.Provider)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "deploy provider (auto-selected when empty)")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the provider reports a result")
	return cmd
}

func (c *cli) deploymentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deployments <generation-id>",
		Short: "List deployments of a generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			jobs, err := c.api().ListDeployments(cmd.Context(), id)
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return c.printJSON(jobs)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(c.out)
			tw.AppendHeader(table.Row{"ID", "Provider", "Status", "Polls", "Created", "Result"})
			for _, j := range jobs {
				result := ""
				switch {
				case j.URL != nil:
					result = *j.URL
				case j.Error != nil:
					result = *j.Error
				}
				tw.AppendRow(table.Row{j.ID, j.Provider, j.Status, j.PollAttempts, j.CreatedAt.Local().Format(time.DateTime), result})
			}
			tw.Render()
			return nil
		},
	}
}

func (c *cli) providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List deploy providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			providers, err := c.api().Providers(cmd.Context())
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return c.printJSON(providers)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(c.out)
			tw.AppendHeader(table.Row{"Provider", "Configured"})
			for _, p := range providers {
				tw.AppendRow(table.Row{p.Name, p.Configured})
			}
			tw.Render()
			return nil
		},
	}
}
