package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"carelink/internal/config"
	"carelink/internal/core"
	applog "carelink/internal/log"
	"carelink/internal/services"
	"carelink/internal/storage"
	"carelink/internal/summary"
)

// caregiverByEmail resolves the caregiver whose patient a command acts on.
func caregiverByEmail(ctx context.Context, repo *storage.SQLiteRepository, email string) (core.Caregiver, error) {
	c, _, err := repo.CaregiverByEmail(ctx, core.NormalizeEmail(email))
	if err != nil {
		return core.Caregiver{}, fmt.Errorf("find caregiver %s: %w", email, err)
	}
	return c, nil
}

func journalCmd(cfg *config.Config) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print a patient's journal grouped by day",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore()
			if err != nil {
				return err
			}
			defer repo.Close()

			c, err := caregiverByEmail(cmd.Context(), repo, email)
			if err != nil {
				return err
			}
			loc := cfg.Location()
			journal := services.NewJournalService(repo, nil, loc, applog.FromContext(cmd.Context()))
			j, err := journal.Sections(cmd.Context(), c.PatientID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(j.Sections) == 0 {
				fmt.Fprintln(out, "No journal entries yet.")
			}
			for _, s := range j.Sections {
				fmt.Fprintf(out, "%s (%s)\n", s.Label, s.Key)
				for _, e := range s.Entries {
					line := e.Timestamp.In(loc).Format("15:04")
					if len(e.Tags) > 0 {
						line += " [" + strings.Join(core.TagNames(e.Tags), ", ") + "]"
					}
					if e.Details != "" {
						line += " " + e.Details
					}
					fmt.Fprintf(out, "  %s  (%s)\n", line, e.AuthorName)
				}
			}
			if j.Skipped > 0 {
				fmt.Fprintf(out, "%d entries skipped: missing timestamp\n", j.Skipped)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email of a caregiver in the group")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func summarizeCmd(cfg *config.Config) *cobra.Command {
	var email, start, end string
	cmd := &cobra.Command{
		Use:     "summarize",
		Short:   "Generate a care summary for a date range",
		Example: "  carelinkctl summarize --email ann@example.com --start 2024-03-01 --end 2024-03-31",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.GeminiAPIKey == "" {
				return summary.ErrMissingAPIKey
			}
			repo, err := openStore()
			if err != nil {
				return err
			}
			defer repo.Close()

			c, err := caregiverByEmail(cmd.Context(), repo, email)
			if err != nil {
				return err
			}

			client := summary.NewClient(cfg.GeminiAPIKey,
				summary.WithModel(cfg.GeminiModel),
				summary.WithBaseURL(cfg.GeminiBaseURL))
			reports := services.NewReportService(repo, client, cfg.SummaryMaxAttempts, cfg.Location(),
				applog.FromContext(cmd.Context()))

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			r, err := reports.Generate(ctx, c, start, end)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Summary %s to %s\n\n%s\n", r.Start, r.End, r.Text)
			if len(r.Sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for _, s := range r.Sources {
					fmt.Fprintf(out, "  - %s <%s>\n", s.Title, s.URI)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email of a caregiver in the group")
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD")
	for _, f := range []string{"email", "start", "end"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
