package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lyzr/appforge/common/clients"
	"github.com/lyzr/appforge/common/models"
)

var errMissingProject = errors.New("--project required")

func (c *cli) generateCmd() *cobra.Command {
	var (
		prdID    string
		fromDir  string
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Start a generation for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := c.project()
			if err != nil {
				return err
			}

			in := clients.StartGenerationInput{Prompt: args[0]}
			if prdID != "" {
				in.PrdID = &prdID
			}
			if fromDir != "" {
				files, err := readTree(fromDir)
				if err != nil {
					return err
				}
				in.Files = files
			}

			api := c.api()
			id, err := api.StartGeneration(cmd.Context(), projectID, in)
			if err != nil {
				return err
			}
			if !wait {
				if c.v.GetBool("json") {
					return c.printJSON(map[string]any{"generationId": id, "status": models.GenerationQueued})
				}
				fmt.Fprintf(c.out, "generation %s queued\n", id)
				return nil
			}

			rec, err := api.WaitForGeneration(cmd.Context(), id, interval)
			if err != nil {
				return err
			}
			if err := c.printGeneration(rec); err != nil {
				return err
			}
			if rec.Status == models.GenerationFailed {
				return fmt.Errorf("generation %s failed", rec.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prdID, "prd", "", "product requirements document id")
	cmd.Flags().StringVar(&fromDir, "from", "", "directory whose files seed the generation")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the generation finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval with --wait")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent generations for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := c.project()
			if err != nil {
				return err
			}
			recs, err := c.api().ListGenerations(cmd.Context(), projectID, limit)
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return c.printJSON(recs)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(c.out)
			tw.AppendHeader(table.Row{"ID", "Status", "Phase", "Files", "Created", "Prompt"})
			for _, r := range recs {
				tw.AppendRow(table.Row{r.ID, r.Status, phaseLabel(r.CurrentPhase), len(r.FileChanges), r.CreatedAt.Local().Format(time.DateTime), truncate(r.Prompt, 48)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of records")
	return cmd
}

func (c *cli) latestCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the latest completed file set",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := c.project()
			if err != nil {
				return err
			}
			rec, err := c.api().GetLatest(cmd.Context(), projectID)
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("project %s has no completed generation", projectID)
			}
			if err != nil {
				return err
			}
			if outDir != "" {
				if err := writeTree(outDir, rec.FileChanges); err != nil {
					return err
				}
			}
			return c.printGeneration(rec)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "write the files under this directory")
	return cmd
}

func (c *cli) printGeneration(rec *models.GenerationRecord) error {
	if c.v.GetBool("json") {
		return c.printJSON(rec)
	}

	fmt.Fprintf(c.out, "generation %s: %s\n", rec.ID, rec.Status)
	if rec.Error != nil {
		fmt.Fprintf(c.out, "error: %s\n", *rec.Error)
	}
	if len(rec.Phases) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(c.out)
		tw.AppendHeader(table.Row{"Phase", "Status", "Message"})
		for _, p := range rec.Phases {
			tw.AppendRow(table.Row{p.Name, p.Status, p.Message})
		}
		tw.Render()
	}
	if len(rec.FileChanges) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(c.out)
		tw.AppendHeader(table.Row{"Path", "Language", "Bytes"})
		for _, f := range rec.FileChanges {
			tw.AppendRow(table.Row{f.Path, f.Language, len(f.Content)})
		}
		tw.Render()
	}
	return nil
}

// readTree loads every regular file under dir as a FileChange
func readTree(dir string) ([]models.FileChange, error) {
	var files []models.FileChange
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && d.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, models.FileChange{Path: filepath.ToSlash(rel), Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	return files, nil
}

func writeTree(dir string, files []models.FileChange) error {
	for _, f := range files {
		path := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(path, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}
	return nil
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func phaseLabel(p *models.PhaseRecord) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.Status)
}
