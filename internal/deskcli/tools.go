package deskcli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phillip-england/projectdesk/internal/apiclient"
	"github.com/phillip-england/projectdesk/internal/auditlog"
	"github.com/phillip-england/projectdesk/internal/config"
	"github.com/phillip-england/projectdesk/internal/printdoc"
	"github.com/phillip-england/projectdesk/internal/records"
)

const auditExportLimit = 100000

func newRenderCmd(opts *globalOptions) *cobra.Command {
	var entity, in, out string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a record saved as JSON to a PDF without a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, ok := records.Lookup(entity)
			if !ok {
				return fmt.Errorf("%w: unknown entity %q", ErrUsage, entity)
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			rec, err := readRecordFile(in)
			if err != nil {
				return err
			}
			records.ComputeTotals(schema, rec)

			doc := printdoc.FromRecord(schema, rec, printdoc.Options{
				Letterhead: letterheadFor(cfg.Console.Company),
				Footer:     cfg.Console.Company.Name,
				Now:        time.Now(),
			})
			var buf bytes.Buffer
			result, err := printdoc.Render(&buf, doc)
			if err != nil {
				return fmt.Errorf("render %s: %w", in, err)
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d pages)\n", out, result.Pages)
			return nil
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "record type, e.g. quotations")
	cmd.Flags().StringVar(&in, "in", "", "record JSON file")
	cmd.Flags().StringVar(&out, "out", "", "PDF file to write")
	for _, name := range []string{"entity", "in", "out"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// readRecordFile accepts either a bare record or the backend's {"data": {...}}
// envelope.
func readRecordFile(path string) (records.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec records.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if inner, ok := rec["data"].(map[string]any); ok {
		rec = records.Record(inner)
	}
	return rec, nil
}

func letterheadFor(c config.CompanyConfig) printdoc.Letterhead {
	lh := printdoc.Letterhead{Name: c.Name, Address: c.Address, Phone: c.Phone, Email: c.Email}
	if c.LogoPath != "" {
		logo, err := printdoc.LoadLogo(c.LogoPath)
		if err != nil {
			zap.L().Warn("letterhead logo not loaded", zap.String("path", c.LogoPath), zap.Error(err))
		} else {
			lh.Logo = logo
		}
	}
	return lh
}

func newAuditCmd(opts *globalOptions) *cobra.Command {
	audit := &cobra.Command{
		Use:   "audit",
		Short: "Work with the backend audit log",
	}

	var (
		apiURL   string
		email    string
		password string
		filter   auditlog.Filter
		out      string
	)
	export := &cobra.Command{
		Use:   "export",
		Short: "Download audit log entries as xz-compressed JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if apiURL == "" {
				apiURL = cfg.Console.APIBaseURL
			}
			if password == "" {
				password = os.Getenv("ADMIN_PASSWORD")
			}
			if email == "" || password == "" {
				return errors.New("--email and --password (or ADMIN_PASSWORD) are required")
			}
			if out == "" {
				out = auditlog.ArchiveName(time.Now())
			}

			ctx := cmd.Context()
			client := apiclient.New(apiURL, &http.Client{Timeout: time.Minute})
			login, err := client.Login(ctx, email, password)
			if err != nil {
				return fmt.Errorf("sign in: %w", err)
			}
			query := filter.Values()
			query.Del("page")
			query.Del("limit")
			recs, err := client.ListAll(ctx, login.Token, records.AuditLogs.Endpoint, query, auditExportLimit)
			if err != nil {
				return fmt.Errorf("list audit logs: %w", err)
			}
			entries := make([]auditlog.Entry, 0, len(recs))
			for _, rec := range recs {
				if e := auditlog.FromRecord(rec); filter.Match(e) {
					entries = append(entries, e)
				}
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := auditlog.WriteArchive(f, entries); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", len(entries), out)
			return nil
		},
	}
	flags := export.Flags()
	flags.StringVar(&apiURL, "api", "", "backend base url (defaults to console.api_base_url)")
	flags.StringVar(&email, "email", "", "account to sign in with")
	flags.StringVar(&password, "password", "", "account password")
	flags.StringVar(&filter.EntityType, "entity", "", "only this record type")
	flags.StringVar(&filter.Action, "action", "", "only this action")
	flags.StringVar(&filter.From, "from", "", "first day, YYYY-MM-DD")
	flags.StringVar(&filter.To, "to", "", "last day, YYYY-MM-DD")
	flags.StringVar(&out, "out", "", "archive file (default audit-logs-<date>.jsonl.xz)")
	audit.AddCommand(export)
	return audit
}

