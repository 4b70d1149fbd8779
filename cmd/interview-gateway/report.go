package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jetbot/interview-gateway/internal/config"
	"github.com/jetbot/interview-gateway/internal/observability"
	"github.com/jetbot/interview-gateway/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report <interview-id>",
	Short: "Print the stored report for an interview",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for report")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		pg, err := connectPostgres(ctx, cfg, observability.GetLogger())
		if err != nil {
			return err
		}
		defer pg.Close()

		iv, err := pg.GetInterview(ctx, args[0])
		if err != nil {
			return fmt.Errorf("interview %s: %w", args[0], err)
		}
		r, err := pg.GetReport(ctx, args[0])
		if err != nil {
			return fmt.Errorf("report for %s: %w", args[0], err)
		}
		printReport(os.Stdout, iv, r)
		return nil
	},
}

func printReport(w io.Writer, iv *store.Interview, r *store.Report) {
	fmt.Fprintf(w, "Interview %s (%s, %s)\n", iv.ID, iv.DifficultyLevel, iv.Status)
	fmt.Fprintf(w, "Report %s created %s\n\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"))

	ratings := newTable(w, []string{"Dimension", "Score"})
	ratings.AppendBulk([][]string{
		{"Technical", strconv.Itoa(r.Ratings.Technical)},
		{"Communication", strconv.Itoa(r.Ratings.Communication)},
		{"Problem solving", strconv.Itoa(r.Ratings.ProblemSolving)},
		{"Time management", strconv.Itoa(r.Ratings.TimeManagement)},
	})
	ratings.SetFooter([]string{"Total", strconv.Itoa(r.Ratings.Total)})
	ratings.Render()
	fmt.Fprintln(w)

	strengths := newTable(w, []string{"Strength", "Rating", "Example"})
	for _, s := range r.KeyStrengths {
		strengths.Append([]string{s.Area, strconv.Itoa(s.Rating), s.Example})
	}
	strengths.Render()
	fmt.Fprintln(w)

	improvements := newTable(w, []string{"Improvement", "Suggestions"})
	for _, i := range r.AreasForImprovement {
		improvements.Append([]string{i.Area, i.Suggestions})
	}
	improvements.Render()

	if status, ok := r.VisualFeedback["status"].(string); ok {
		fmt.Fprintf(w, "\nVisual feedback: %s\n", status)
	}
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	return table
}
