// Command insider-trading downloads the QuiverQuant insider trading feed for
// one processing date (or a range of dates) and merges it into the dataset.
//
// Usage:
//
//	insider-trading run [--date YYYYMMDD]
//	insider-trading backfill --from YYYYMMDD --to YYYYMMDD
//	insider-trading backfill --resume [--to YYYYMMDD]
//	insider-trading runs [--limit N]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"insidertrading/internal/config"
	"insidertrading/internal/domain"
	"insidertrading/internal/gather"
	"insidertrading/internal/gather/insider"
	"insidertrading/internal/store"
	"insidertrading/internal/symbols"
	"insidertrading/internal/util"
)

var errRunFailed = errors.New("run failed")

type app struct {
	cfgPath string
	apiKey  string
	offline bool

	cfg *config.Config
	log *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "insider-trading: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "insider-trading",
		Short:         "Download and merge the QuiverQuant insider trading dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", os.Getenv("INSIDER_TRADING_CONFIG"),
		"YAML config file (env INSIDER_TRADING_CONFIG); empty uses environment variables only")
	root.PersistentFlags().StringVar(&a.apiKey, "api-key", "", "vendor API key, overrides the config file")
	root.PersistentFlags().BoolVar(&a.offline, "offline", false, "re-process archived responses instead of calling the vendor")

	root.AddCommand(a.newRunCmd(), a.newBackfillCmd(), a.newRunsCmd())
	return root
}

func (a *app) init() error {
	cfg, err := config.LoadAndValidate(a.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.apiKey != "" {
		cfg.Vendor.APIKey = a.apiKey
	}
	a.cfg = cfg

	a.log = util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	util.SetDefault(a.log)
	return nil
}

func (a *app) newRunCmd() *cobra.Command {
	var dateFlag string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a single date (default: yesterday, UTC)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			date := yesterday()
			if dateFlag != "" {
				d, err := parseDate(dateFlag)
				if err != nil {
					return err
				}
				date = d
			}

			ctx, stop := signalContext()
			defer stop()

			d, closeAll, err := a.downloader()
			if err != nil {
				return err
			}
			defer closeAll()

			if !d.Run(ctx, date) {
				return errRunFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dateFlag, "date", "", "processing date as YYYYMMDD")
	return cmd
}

func (a *app) newBackfillCmd() *cobra.Command {
	var (
		fromFlag, toFlag string
		resume           bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Process every date in an inclusive range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			to := yesterday()
			if toFlag != "" {
				d, err := parseDate(toFlag)
				if err != nil {
					return err
				}
				to = d
			}

			var from time.Time
			switch {
			case resume:
				last, err := a.lastCompleted(ctx)
				if err != nil {
					return err
				}
				from = last.AddDate(0, 0, 1)
			case fromFlag != "":
				d, err := parseDate(fromFlag)
				if err != nil {
					return err
				}
				from = d
			default:
				return errors.New("either --from or --resume is required")
			}

			if from.After(to) {
				a.log.Info("nothing to backfill", "from", from.Format(domain.VendorDateLayout), "to", to.Format(domain.VendorDateLayout))
				return nil
			}
			r, err := gather.NewDateRange(from, to)
			if err != nil {
				return err
			}

			d, closeAll, err := a.downloader()
			if err != nil {
				return err
			}
			defer closeAll()

			start := time.Now()
			reports, err := d.Backfill(ctx, r)
			failed := 0
			for _, rep := range reports {
				if !rep.Success() {
					failed++
				}
			}
			a.log.Info("backfill complete",
				"from", r.Start.Format(domain.VendorDateLayout),
				"to", r.End.Format(domain.VendorDateLayout),
				"dates", len(reports),
				"failed", failed,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d dates", errRunFailed, failed, len(reports))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fromFlag, "from", "", "first processing date as YYYYMMDD")
	cmd.Flags().StringVar(&toFlag, "to", "", "last processing date as YYYYMMDD (default: yesterday, UTC)")
	cmd.Flags().BoolVar(&resume, "resume", false, "start the day after the last journaled run that merged its history files")
	cmd.MarkFlagsMutuallyExclusive("from", "resume")
	return cmd
}

func (a *app) newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs from the journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := a.openJournal()
			if err != nil {
				return err
			}
			defer j.Close()

			runs, err := j.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tDATE\tOK\tTXNS\tTICKERS\tFILES\tDURATION\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%d\t%d\t%s\t%s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.ProcessDate.Format(domain.VendorDateLayout),
					r.Success,
					r.Transactions,
					r.Tickers,
					r.FilesWritten,
					r.Duration,
					r.Error,
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show (0 for all)")
	return cmd
}

// downloader wires the configured stores into a Downloader. The returned
// func closes whatever was opened.
func (a *app) downloader() (*insider.Downloader, func(), error) {
	var (
		opts    []insider.Option
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				a.log.Warn("closing store", "error", err)
			}
		}
	}

	opts = append(opts, insider.WithLogger(a.log), insider.WithOffline(a.offline))

	if resolver := a.openResolver(); resolver != nil {
		opts = append(opts, insider.WithResolver(resolver))
	}
	if dir := a.cfg.Storage.ArchiveDir; dir != "" {
		opts = append(opts, insider.WithArchive(store.NewArchiveStore(dir)))
	}
	if a.cfg.Storage.JournalPath != "" {
		j, err := a.openJournal()
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, j.Close)
		opts = append(opts, insider.WithJournal(j))
	}

	v := a.cfg.Vendor
	d, err := insider.NewDownloader(insider.Settings{
		DestinationDir: a.cfg.Storage.DestinationDir,
		ProcessedDir:   a.cfg.Storage.ProcessedDir,
		BaseURL:        v.BaseURL,
		APIKey:         v.APIKey,
		Timeout:        v.Timeout,
		MaxAttempts:    v.MaxAttempts,
		RetryDelay:     v.RetryDelay,
		RateInterval:   v.RateInterval,
	}, opts...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return d, closeAll, nil
}

// openResolver returns nil when no map files are available, which disables
// universe files.
func (a *app) openResolver() *symbols.MapFileResolver {
	dir := a.cfg.Storage.MapFilesDir
	if dir == "" {
		a.log.Warn("no map files directory configured; universe files disabled")
		return nil
	}
	r, err := symbols.OpenMapFiles(dir, a.log)
	if err != nil {
		a.log.Warn("symbol mapping unavailable; universe files disabled", "dir", dir, "error", err)
		return nil
	}
	return r
}

func (a *app) openJournal() (*store.Journal, error) {
	if a.cfg.Storage.JournalPath == "" {
		return nil, errors.New("storage.journal_path is not configured")
	}
	j, err := store.NewJournal(a.cfg.Storage.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return j, nil
}

func (a *app) lastCompleted(ctx context.Context) (time.Time, error) {
	j, err := a.openJournal()
	if err != nil {
		return time.Time{}, err
	}
	defer j.Close()

	last, ok, err := j.LastCompleted(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, errors.New("journal has no completed run to resume from; use --from")
	}
	return last, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func yesterday() time.Time {
	return gather.Day(time.Now().UTC()).AddDate(0, 0, -1)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(domain.FileDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYYMMDD: %w", s, err)
	}
	return t, nil
}
