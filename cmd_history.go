package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nijaru/yt-transcripts/config"
	"github.com/nijaru/yt-transcripts/db"
	"github.com/nijaru/yt-transcripts/proxy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		status string
		dbPath string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent extraction results",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && status != db.StatusCompleted && status != db.StatusFailed {
				return errors.Errorf("status must be %q or %q", db.StatusCompleted, db.StatusFailed)
			}
			if err := openStore(cmd, dbPath); err != nil {
				return err
			}
			defer db.DB.Close()

			records, err := db.ListRecent(commandContext(cmd), limit, status)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")
	cmd.Flags().StringVar(&status, "status", "", "Only show completed or failed results")
	cmd.Flags().StringVar(&dbPath, "db", "", "Results database path (default from DB_PATH)")

	return cmd
}

func newForgetCommand() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "forget <video-id>...",
		Short: "Remove stored results so the videos are processed again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := openStore(cmd, dbPath); err != nil {
				return err
			}
			defer db.DB.Close()

			for _, id := range args {
				if err := db.DeleteResult(commandContext(cmd), strings.TrimSpace(id)); err != nil {
					return errors.Wrapf(err, "forget %s", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Results database path (default from DB_PATH)")
	return cmd
}

func newCheckProxiesCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "check-proxies",
		Short: "Parse the proxy pool file and list its entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = config.LoadConfig().ProxyFile
			}
			if path == "" {
				return errors.New("no proxy file: pass --file or set PROXY_FILE")
			}
			p, err := proxy.Load(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d proxies in %s\n", p.Len(), path)
			for _, cred := range p.Credentials() {
				fmt.Fprintf(out, "  %s\n", cred)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "Proxy pool file (default from PROXY_FILE)")
	return cmd
}

func openStore(cmd *cobra.Command, dbPath string) error {
	if dbPath == "" {
		dbPath = config.LoadConfig().DBPath
	}
	logrus.SetLevel(logrus.WarnLevel)
	return db.InitializeDB(dbPath)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printHistory(w io.Writer, records []db.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No results stored")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VIDEO\tSTATUS\tMETHOD\tDETAIL\tUPDATED")
	for _, r := range records {
		detail := fmt.Sprintf("%d chars", len(r.Text))
		if r.Status != db.StatusCompleted {
			detail = r.ErrorKind
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.VideoID, r.Status, dash(r.Method), detail, r.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
