package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyzr/appforge/common/clients"
	"github.com/lyzr/appforge/common/events"
)

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream a project's live events",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := c.project()
			if err != nil {
				return err
			}

			session := clients.NewSession(c.api(), projectID, c.logger())
			done := make(chan error, 1)
			go func() { done <- session.Run(cmd.Context()) }()

			for ev := range session.Events() {
				if err := c.printEvent(ev); err != nil {
					return err
				}
			}
			if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func (c *cli) printEvent(ev events.Event) error {
	if c.v.GetBool("json") {
		return c.printJSON(ev)
	}

	ts := ev.Timestamp.Local().Format("15:04:05")
	switch ev.Type {
	case events.GenerationStart:
		var p events.StartPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s start     %s\n", ts, p.GenerationID)
	case events.GenerationProgress:
		var p events.ProgressPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s phase     %s %s %s\n", ts, p.Phase.Name, p.Phase.Status, p.Phase.Message)
	case events.GenerationLog:
		var p events.LogPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s log       %s\n", ts, p.Message)
	case events.GenerationComplete:
		var p events.CompletePayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s complete  %s (%d files)\n", ts, p.GenerationID, len(p.Files))
	case events.GenerationError:
		var p events.ErrorPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s error     %s: %s\n", ts, p.GenerationID, p.Error)
	case events.DeploymentStart:
		var p events.DeploymentStartPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s deploying %s on %s\n", ts, p.DeploymentID, p.Provider)
	case events.DeploymentComplete:
		var p events.DeploymentCompletePayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s deployed  %s\n", ts, p.URL)
	case events.DeploymentError:
		var p events.DeploymentErrorPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s deploy failed %s: %s\n", ts, p.DeploymentID, p.Error)
	default:
		fmt.Fprintf(c.out, "%s %s\n", ts, ev.Type)
	}
	return nil
}
