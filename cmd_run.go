package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nijaru/yt-transcripts/config"
	"github.com/nijaru/yt-transcripts/db"
	"github.com/nijaru/yt-transcripts/extractor"
	"github.com/nijaru/yt-transcripts/logger"
	"github.com/nijaru/yt-transcripts/models"
	"github.com/nijaru/yt-transcripts/pool"
	"github.com/nijaru/yt-transcripts/proxy"
	"github.com/nijaru/yt-transcripts/ratelimit"
	"github.com/nijaru/yt-transcripts/storage"
	"github.com/nijaru/yt-transcripts/transcription"
	"github.com/nijaru/yt-transcripts/utils"
	"github.com/nijaru/yt-transcripts/youtube"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const progressInterval = 10 * time.Second

type runOptions struct {
	input    string
	workers  int
	rps      float64
	lang     string
	output   string
	dbPath   string
	proxies  string
	skipDone bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [urls...]",
		Short: "Extract transcripts for a batch of videos",
		Long: `Extract transcripts for every video given as an argument or listed in the
input file.

Input file lines have the form url[,title[,key=value...]]; lines starting with
# are ignored. Transcripts are written to the output directory and every
outcome is recorded in the results database.

The first interrupt stops new work and lets running extractions finish. A
second interrupt cancels them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			opts.apply(cmd, cfg)
			if len(args) == 0 && opts.input == "" {
				return errors.New("no videos given: pass URLs or --input")
			}
			return runBatch(cmd.Context(), cfg, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "File with one video per line")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", pool.DefaultWorkers, "Number of concurrent workers (1-64)")
	cmd.Flags().Float64Var(&opts.rps, "rps", 2, "Maximum outbound requests per second")
	cmd.Flags().StringVarP(&opts.lang, "lang", "l", "en", "Preferred transcript language")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "./transcripts", "Directory for transcript files")
	cmd.Flags().StringVar(&opts.dbPath, "db", "./data/transcripts.db", "Results database path")
	cmd.Flags().StringVar(&opts.proxies, "proxies", "", "Proxy pool file")
	cmd.Flags().BoolVar(&opts.skipDone, "skip-done", false, "Skip videos that already have a stored transcript")

	return cmd
}

// apply overrides environment config with explicitly set flags.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
	if flags.Changed("rps") {
		cfg.RequestsPerSecond = o.rps
	}
	if flags.Changed("lang") {
		cfg.Language = o.lang
	}
	if flags.Changed("output") {
		cfg.OutputDir = o.output
	}
	if flags.Changed("db") {
		cfg.DBPath = o.dbPath
	}
	if flags.Changed("proxies") {
		cfg.ProxyFile = o.proxies
	}
}

func runBatch(ctx context.Context, cfg *config.Config, args []string, opts *runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	log, closer, err := logger.NewLogger(logger.Options{Dir: cfg.LogDir, Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer closer.Close()
	logrus.SetOutput(log.Out)
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(log.Level)

	if err := db.InitializeDB(cfg.DBPath); err != nil {
		return err
	}
	defer db.DB.Close()

	tasks, err := collectTasks(args, opts.input, cfg.Language, log)
	if err != nil {
		return err
	}
	if opts.skipDone {
		tasks, err = skipCompleted(ctx, tasks, log)
		if err != nil {
			return err
		}
	}
	if len(tasks) == 0 {
		log.Warn("No videos to process")
		return nil
	}

	chain, err := buildChain(cfg, log)
	if err != nil {
		return err
	}

	var archive *storage.Archive
	if cfg.ArchiveEnabled() {
		archive, err = storage.NewArchive(ctx, storage.ArchiveConfig{
			Endpoint:  cfg.ArchiveEndpoint,
			Region:    cfg.ArchiveRegion,
			Bucket:    cfg.ArchiveBucket,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Prefix:    cfg.ArchivePrefix,
		})
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batchID := db.NewBatchID()
	log.WithFields(logrus.Fields{
		"batch_id":   batchID,
		"videos":     len(tasks),
		"workers":    cfg.Workers,
		"strategies": chain.Strategies(),
	}).Info("Starting batch")

	p := pool.New(ctx, chain, pool.Options{Workers: cfg.Workers, QueueSize: cfg.QueueSize, Log: log})
	stopSignals := watchSignals(p, cancel, log)
	defer signal.Stop(stopSignals)

	out := &sink{outputDir: cfg.OutputDir, batchID: batchID, archive: archive, log: log}
	sum := drive(p, tasks, cfg.PollTimeout, out, log)
	p.Close()

	fmt.Println(extractor.FormatStats(chain.Stats()))
	log.WithFields(logrus.Fields{
		"batch_id":    batchID,
		"succeeded":   sum.succeeded,
		"failed":      sum.failed,
		"unsubmitted": sum.unsubmitted,
		"elapsed":     time.Since(sum.started).Round(time.Millisecond).String(),
	}).Info("Batch finished")

	if sum.failed > 0 || sum.unsubmitted > 0 {
		return &BatchFailureError{Failed: sum.failed + sum.unsubmitted, Total: len(tasks)}
	}
	return nil
}

func skipCompleted(ctx context.Context, tasks []models.VideoTask, log logrus.FieldLogger) ([]models.VideoTask, error) {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	done, err := db.Completed(ctx, ids)
	if err != nil {
		return nil, err
	}
	remaining := tasks[:0]
	for _, t := range tasks {
		if !done[t.ID] {
			remaining = append(remaining, t)
		}
	}
	if skipped := len(tasks) - len(remaining); skipped > 0 {
		log.WithField("skipped", skipped).Info("Skipping videos with stored transcripts")
	}
	return remaining, nil
}

// buildChain creates every shared client once. All strategies draw from the
// same limiter so the outbound rate holds across workers.
func buildChain(cfg *config.Config, log *logrus.Logger) (*extractor.Chain, error) {
	proxies := proxy.NewPool(nil)
	if cfg.ProxyFile != "" {
		loaded, err := proxy.Load(cfg.ProxyFile)
		if err != nil {
			return nil, err
		}
		proxies = loaded
	}
	limiter := ratelimit.New(cfg.RequestsPerSecond)

	opts := extractor.Options{Language: cfg.Language, Log: log}
	if cfg.UseLibrary {
		opts.Library = youtube.NewLibrary(youtube.LibraryOptions{Timeout: cfg.FetchTimeout, Limiter: limiter, Log: log})
		opts.ProxyLibrary = youtube.NewLibrary(youtube.LibraryOptions{Timeout: cfg.FetchTimeout, Proxies: proxies, Limiter: limiter, Log: log})
	}
	opts.Scraper = youtube.NewScraper(youtube.Config{
		Attempts: cfg.FetchAttempts,
		Backoff:  cfg.FetchBackoff,
		Timeout:  cfg.FetchTimeout,
	}, proxies, limiter, log)

	if cfg.PaidEnabled() {
		retries := cfg.TranscriberRetries
		if retries == 0 {
			retries = -1
		}
		client, err := transcription.NewClient(transcription.Config{
			BaseURL:        cfg.TranscriberBaseURL,
			APIKey:         cfg.TranscriberAPIKey,
			Model:          cfg.TranscriberModel,
			MaxRetries:     retries,
			InitialBackoff: cfg.TranscriberBackoff,
			PollInterval:   cfg.TranscriberPollInterval,
			PollAttempts:   cfg.TranscriberPollAttempts,
		}, log)
		if err != nil {
			return nil, err
		}
		opts.Paid = client
	} else {
		log.Info("Paid transcription not configured, videos without captions will fail")
	}

	return extractor.Build(opts), nil
}

func watchSignals(p *pool.Pool, cancel context.CancelFunc, log logrus.FieldLogger) chan os.Signal {
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		for {
			select {
			case s := <-sig:
				if !p.StopRequested() {
					log.WithField("signal", s.String()).Warn("Stopping, waiting for running extractions")
					p.RequestStop()
					continue
				}
				log.WithField("signal", s.String()).Warn("Cancelling running extractions")
				cancel()
				return
			case <-p.Done():
				return
			}
		}
	}()
	return sig
}

type summary struct {
	started     time.Time
	succeeded   int
	failed      int
	unsubmitted int
}

// drive feeds tasks into the pool as queue space allows and consumes results
// until every submitted task has one.
func drive(p *pool.Pool, tasks []models.VideoTask, pollTimeout time.Duration, out *sink, log logrus.FieldLogger) summary {
	sum := summary{started: time.Now()}
	queue := tasks
	lastReport := time.Now()

	for {
		for len(queue) > 0 && !p.StopRequested() {
			if err := p.Submit(queue[0]); err != nil {
				break
			}
			queue = queue[1:]
		}
		if p.StopRequested() && len(queue) > 0 {
			log.WithField("videos", len(queue)).Warn("Stop requested, leaving videos unsubmitted")
			sum.unsubmitted += len(queue)
			queue = nil
		}

		if res, ok := p.Poll(pollTimeout); ok {
			out.record(res, &sum)
		}

		if time.Since(lastReport) >= progressInterval {
			logProgress(p.Progress(), len(queue), log)
			lastReport = time.Now()
		}
		if len(queue) == 0 && p.IsComplete() {
			for {
				res, ok := p.Poll(0)
				if !ok {
					break
				}
				out.record(res, &sum)
			}
			return sum
		}
	}
}

// sink persists each result: transcript file, object storage copy and the
// results database.
type sink struct {
	outputDir string
	batchID   string
	archive   *storage.Archive
	log       logrus.FieldLogger
}

func (s *sink) record(res models.ExtractionResult, sum *summary) {
	// Persistence runs detached from the batch context so a cancelled batch
	// still records what finished.
	ctx := context.Background()
	entry := s.log.WithFields(logrus.Fields{
		"video_id":  res.Task.ID,
		"attempted": res.Attempted,
		"duration":  res.Duration.Round(time.Millisecond).String(),
	})

	if res.Success {
		sum.succeeded++
		path, err := utils.WriteTranscript(s.outputDir, res)
		if err != nil {
			entry.WithError(err).Error("Failed to write transcript")
		} else {
			entry.WithFields(logrus.Fields{"method": res.Method, "path": path}).Info("Transcript saved")
		}
		if s.archive != nil {
			if key, err := s.archive.Save(ctx, s.batchID, res); err != nil {
				entry.WithError(err).Error("Failed to archive transcript")
			} else {
				entry.WithField("key", key).Debug("Transcript archived")
			}
		}
	} else {
		sum.failed++
		entry.WithFields(logrus.Fields{"kind": res.Kind, "error": res.Message}).Warn("Extraction failed")
		if res.Diagnostic != "" {
			entry.WithField("diagnostic", res.Diagnostic).Debug("Failure diagnostic")
		}
	}

	if err := db.SaveResult(ctx, s.batchID, res); err != nil {
		entry.WithError(err).Error("Failed to store result")
	}
}

func logProgress(p models.BatchProgress, unsubmitted int, log logrus.FieldLogger) {
	log.WithFields(logrus.Fields{
		"total":       p.Total,
		"completed":   p.Completed,
		"succeeded":   p.Succeeded,
		"failed":      p.Failed,
		"in_flight":   p.InFlight,
		"pending":     p.Pending(),
		"unsubmitted": unsubmitted,
	}).Info("Progress")
}
