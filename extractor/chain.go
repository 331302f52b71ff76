package extractor

import (
	"context"
	"time"

	apperrors "github.com/nijaru/yt-transcripts/errors"
	"github.com/nijaru/yt-transcripts/models"
	"github.com/nijaru/yt-transcripts/youtube"
	"github.com/sirupsen/logrus"
)

const skippedPrefix = "skipped:"

// Chain tries its strategies in order and stops at the first success. It is
// built once and shared by every worker.
type Chain struct {
	strategies []Strategy
	language   string
	stats      map[string]*counters
	log        logrus.FieldLogger
}

func NewChain(language string, log logrus.FieldLogger, strategies ...Strategy) *Chain {
	if log == nil {
		log = logrus.StandardLogger()
	}
	stats := make(map[string]*counters, len(strategies))
	for _, s := range strategies {
		stats[s.Name()] = &counters{}
	}
	return &Chain{
		strategies: strategies,
		language:   language,
		stats:      stats,
		log:        log,
	}
}

// Options lists the collaborators a default chain is assembled from. Nil
// members leave their step out.
type Options struct {
	Language     string
	Library      *youtube.Library
	ProxyLibrary *youtube.Library
	Scraper      *youtube.Scraper
	Paid         Transcriber
	Log          logrus.FieldLogger
}

// Build assembles library, proxied library, page scrape and paid service in
// that order.
func Build(opts Options) *Chain {
	var strategies []Strategy
	if opts.Library != nil {
		strategies = append(strategies, NewCaptionStrategy(string(models.MethodLibrary), models.MethodLibrary, opts.Library))
	}
	if opts.ProxyLibrary != nil && opts.ProxyLibrary.Proxied() {
		strategies = append(strategies, NewCaptionStrategy(string(models.MethodLibraryProxy), models.MethodLibraryProxy, opts.ProxyLibrary))
	}
	if opts.Scraper != nil {
		strategies = append(strategies, NewCaptionStrategy(string(models.MethodScrape), models.MethodScrape, opts.Scraper))
	}
	if opts.Paid != nil {
		strategies = append(strategies, NewPaidStrategy(opts.Paid))
	}
	return NewChain(opts.Language, opts.Log, strategies...)
}

// Strategies returns the step names in run order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Run produces exactly one result for task. Strategy failures never abort
// the chain; only running out of strategies yields a failed result.
func (c *Chain) Run(ctx context.Context, task models.VideoTask) models.ExtractionResult {
	const op = "extractor.Run"
	start := time.Now()

	lang := task.Language
	if lang == "" {
		lang = c.language
	}
	log := c.log.WithFields(logrus.Fields{"video_id": task.ID, "language": lang})

	var (
		attempted    []string
		lastErr      error
		noCaptionErr error
	)
	for _, s := range c.strategies {
		st := c.stats[s.Name()]

		if noCaptionErr != nil && s.UsesCaptions() {
			attempted = append(attempted, skippedPrefix+s.Name())
			st.skipped.Add(1)
			continue
		}
		if err := ctx.Err(); err != nil {
			lastErr = apperrors.Wrap(op, err)
			break
		}

		attempted = append(attempted, s.Name())
		st.attempts.Add(1)

		out, err := s.Extract(ctx, task, lang)
		if err == nil {
			st.successes.Add(1)
			if out.Language == "" {
				out.Language = lang
			}
			log.WithFields(logrus.Fields{
				"method":    s.Method(),
				"attempted": attempted,
				"chars":     len(out.Text),
			}).Info("Transcript extracted")
			return models.ExtractionResult{
				Task:       task,
				Success:    true,
				Method:     s.Method(),
				Text:       out.Text,
				Segments:   out.Segments,
				Language:   out.Language,
				Attempted:  attempted,
				Duration:   time.Since(start),
				FinishedAt: time.Now(),
			}
		}

		kind := apperrors.Classify(err)
		if kind == apperrors.NoCaptionsAvailable {
			st.noCaptions.Add(1)
			noCaptionErr = err
			log.WithField("strategy", s.Name()).Info("No captions available, skipping caption strategies")
			continue
		}

		st.failures.Add(1)
		lastErr = err
		log.WithFields(logrus.Fields{
			"strategy": s.Name(),
			"kind":     kind,
		}).WithError(err).Warn("Strategy failed")
	}

	final := lastErr
	if final == nil {
		final = noCaptionErr
	}
	if final == nil {
		final = apperrors.Config(op, nil, "no extraction strategies configured")
	}
	kind := apperrors.Classify(final)

	log.WithFields(logrus.Fields{
		"kind":      kind,
		"attempted": attempted,
	}).WithError(final).Error("All strategies failed")

	return models.ExtractionResult{
		Task:       task,
		Kind:       string(kind),
		Message:    final.Error(),
		Diagnostic: apperrors.Diagnostic(final),
		Attempted:  attempted,
		Duration:   time.Since(start),
		FinishedAt: time.Now(),
	}
}
