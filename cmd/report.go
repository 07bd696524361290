package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shoplens/pipeline-cli/internal/catalog"
	"github.com/shoplens/pipeline-cli/internal/feedback"
	"github.com/shoplens/pipeline-cli/internal/model"
	"github.com/shoplens/pipeline-cli/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Manage extraction error reports",
	Long:  "Commands for filing, listing, and resolving field-level error reports, and for inspecting which fields need priority extraction.",
}

// -- report ingest --

var (
	reportAnalysisID   string
	reportField        string
	reportIssue        string
	reportSeverity     string
	reportDescription  string
	reportCrawlerValue string
	reportValue        string
	reportHTMLPath     string
)

var reportIngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "File an error report and derive a priority chunk",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("report"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}

		var html []byte
		if reportHTMLPath != "" {
			html, err = os.ReadFile(reportHTMLPath)
			if err != nil {
				return eris.Wrapf(err, "read captured page %s", reportHTMLPath)
			}
		} else if reportAnalysisID != "" {
			doc, err := st.LatestDocumentForAnalysis(ctx, reportAnalysisID)
			if err != nil {
				return eris.Wrap(err, "load captured document")
			}
			if doc != nil {
				html = doc.Body
			}
		}

		r := &model.ErrorReport{
			AnalysisID:   reportAnalysisID,
			FieldName:    reportField,
			IssueType:    model.IssueType(reportIssue),
			Severity:     model.Severity(reportSeverity),
			Description:  reportDescription,
			CrawlerValue: reportCrawlerValue,
			ReportValue:  reportValue,
		}

		loop := feedback.NewLoop(st, cat)
		chunk, err := loop.Ingest(ctx, r, html)
		if err != nil {
			return eris.Wrap(err, "ingest report")
		}

		fmt.Printf("report %s filed for %s\n", r.ID, r.FieldName)
		if chunk != nil {
			fmt.Printf("priority chunk %s derived: %s\n", chunk.ID, chunk.Selector)
		} else {
			fmt.Println("no priority chunk derivable")
		}
		return nil
	},
}

// -- report list --

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List error reports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("report"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		field, _ := cmd.Flags().GetString("field")
		limit, _ := cmd.Flags().GetInt("limit")

		reports, err := st.ListReports(ctx, store.ReportFilter{
			Status:    model.ReportStatus(status),
			FieldName: field,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "list reports")
		}

		if len(reports) == 0 {
			fmt.Fprintln(os.Stderr, "No reports found.")
			return nil
		}

		formatReportList(os.Stdout, reports)
		return nil
	},
}

// -- report resolve --

var reportResolveCmd = &cobra.Command{
	Use:   "resolve <report-id>",
	Short: "Mark an error report resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("report"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}

		if err := feedback.NewLoop(st, cat).Resolve(ctx, args[0]); err != nil {
			return eris.Wrap(err, "resolve report")
		}
		fmt.Printf("report %s resolved\n", args[0])
		return nil
	},
}

// -- report priority --

var reportPriorityCmd = &cobra.Command{
	Use:   "priority",
	Short: "Show fields ranked by unresolved report count",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("report"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}

		fields, err := feedback.NewLoop(st, cat).PriorityFields(ctx)
		if err != nil {
			return eris.Wrap(err, "priority fields")
		}

		if len(fields) == 0 {
			fmt.Fprintln(os.Stderr, "No pending reports.")
			return nil
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(fields)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "FIELD\tPENDING")
		for _, f := range fields {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", f.FieldName, f.Pending)
		}
		return w.Flush()
	},
}

func formatReportList(out io.Writer, reports []model.ErrorReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFIELD\tISSUE\tSEVERITY\tSTATUS\tCREATED")
	for _, r := range reports {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.FieldName, r.IssueType, r.Severity, r.Status,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	if err := w.Flush(); err != nil {
		zap.L().Warn("report table flush failed", zap.Error(err))
	}
}

func init() {
	reportIngestCmd.Flags().StringVar(&reportAnalysisID, "analysis", "", "analysis ID the report refers to")
	reportIngestCmd.Flags().StringVar(&reportField, "field", "", "field name the report is about (required)")
	reportIngestCmd.Flags().StringVar(&reportIssue, "issue", "mismatch", "issue type: mismatch, missing, or incorrect")
	reportIngestCmd.Flags().StringVar(&reportSeverity, "severity", "medium", "severity: high, medium, or low")
	reportIngestCmd.Flags().StringVar(&reportDescription, "description", "", "free-form description")
	reportIngestCmd.Flags().StringVar(&reportCrawlerValue, "crawler-value", "", "value the crawler extracted")
	reportIngestCmd.Flags().StringVar(&reportValue, "value", "", "correct value per the reporter")
	reportIngestCmd.Flags().StringVar(&reportHTMLPath, "html", "", "path to the captured page HTML")
	_ = reportIngestCmd.MarkFlagRequired("field")

	reportListCmd.Flags().String("status", "", "filter by status: pending or resolved")
	reportListCmd.Flags().String("field", "", "filter by field name")
	reportListCmd.Flags().Int("limit", 50, "maximum reports to list")

	reportPriorityCmd.Flags().Bool("json", false, "print as JSON")

	reportCmd.AddCommand(reportIngestCmd, reportListCmd, reportResolveCmd, reportPriorityCmd)
	rootCmd.AddCommand(reportCmd)
}
