package service

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foomo/newsletter-mcp/sanitize"
	"github.com/foomo/newsletter-mcp/scrape"
	"github.com/foomo/newsletter-mcp/segment"
	"github.com/foomo/newsletter-mcp/service/vo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const sanitizeConcurrency = 4

// Service runs ingestion passes and holds the latest snapshot.
type Service interface {
	// Retrieve runs an ingestion pass. Concurrent calls share one pass.
	Retrieve(ctx context.Context) (*vo.Snapshot, error)
	// Snapshot returns the latest published snapshot, never nil.
	Snapshot() *vo.Snapshot
	// ContentFor returns the sanitized markup of a section.
	ContentFor(sectionID string) (string, bool)
	// Sections returns the configured rules in priority order.
	Sections() []vo.SectionRule
	// Subscribe registers fn for every published snapshot.
	Subscribe(fn func(*vo.Snapshot)) (cancel func())
}

// Retriever returns the raw markup of a document.
type Retriever interface {
	Retrieve(ctx context.Context, documentURL string) (string, error)
}

type service struct {
	logger      *zap.Logger
	documentURL string
	rules       []vo.SectionRule
	retriever   Retriever
	segmenter   *segment.Segmenter
	policy      *sanitize.Policy
	group       singleflight.Group
	snapshot    atomic.Pointer[vo.Snapshot]

	subscribersMutex sync.Mutex
	subscribers      map[int]func(*vo.Snapshot)
	nextSubscriber   int
}

type Option func(s *service)

// WithRetriever replaces the HTTP strategy chain built from the settings.
func WithRetriever(retriever Retriever) Option {
	return func(s *service) {
		if retriever != nil {
			s.retriever = retriever
		}
	}
}

func NewService(logger *zap.Logger, settings *Settings, httpClient *http.Client, opts ...Option) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	s := &service{
		logger:      logger,
		documentURL: settings.DocumentURL,
		rules:       settings.Sections,
		retriever: scrape.NewRetriever(
			logger.Named("scrape"),
			settings.BuildStrategies(httpClient),
			scrape.RetrieverWithAttemptTimeout(settings.GetAttemptTimeout()),
		),
		segmenter:   settings.BuildSegmenter(),
		policy:      sanitize.NewPolicy(),
		subscribers: map[int]func(*vo.Snapshot){},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshot.Store(&vo.Snapshot{State: vo.StateLoading, UpdatedAt: time.Now()})
	return s
}

func (s *service) Retrieve(ctx context.Context) (*vo.Snapshot, error) {
	// the pass outlives a cancelled caller, other callers may have joined it
	ch := s.group.DoChan("ingest", func() (interface{}, error) {
		return s.ingest(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	case res := <-ch:
		snapshot, _ := res.Val.(*vo.Snapshot)
		return snapshot, res.Err
	}
}

func (s *service) Snapshot() *vo.Snapshot {
	return s.snapshot.Load()
}

func (s *service) ContentFor(sectionID string) (string, bool) {
	markup, ok := s.Snapshot().Content[sectionID]
	if !ok || markup == "" {
		return "", false
	}
	return markup, true
}

func (s *service) Sections() []vo.SectionRule {
	return s.rules
}

func (s *service) Subscribe(fn func(*vo.Snapshot)) (cancel func()) {
	s.subscribersMutex.Lock()
	defer s.subscribersMutex.Unlock()
	id := s.nextSubscriber
	s.nextSubscriber++
	s.subscribers[id] = fn
	return func() {
		s.subscribersMutex.Lock()
		defer s.subscribersMutex.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *service) ingest(ctx context.Context) (*vo.Snapshot, error) {
	start := time.Now()
	previous := s.Snapshot()
	s.publish(&vo.Snapshot{
		State:     vo.StateLoading,
		Title:     previous.Title,
		Content:   previous.Content,
		UpdatedAt: start,
	})

	raw, err := s.retriever.Retrieve(ctx, s.documentURL)
	if err != nil {
		return s.fail(previous, start, err)
	}

	result, err := s.segmenter.Segment(raw)
	if err != nil {
		return s.fail(previous, start, err)
	}
	if result.Degenerate {
		s.logger.Warn("no section header recognized, every section shows the whole document",
			zap.String("documentURL", s.documentURL),
			zap.String("title", result.Title),
		)
	}

	content, unavailable := s.sanitizeAll(result)
	snapshot := &vo.Snapshot{
		State:       vo.StateReady,
		Title:       result.Title,
		Content:     content,
		Unavailable: unavailable,
		Degenerate:  result.Degenerate,
		UpdatedAt:   time.Now(),
	}
	s.publish(snapshot)

	outcome := "ready"
	if result.Degenerate {
		outcome = "degenerate"
	}
	observeIngestion(outcome, start, len(content))
	s.logger.Info("newsletter ingested",
		zap.Int("sections", len(content)),
		zap.Strings("unavailable", unavailable),
		zap.Duration("duration", time.Since(start)),
	)
	return snapshot, nil
}

// fail publishes an error snapshot that keeps the previous content visible.
func (s *service) fail(previous *vo.Snapshot, start time.Time, err error) (*vo.Snapshot, error) {
	snapshot := &vo.Snapshot{
		State:      vo.StateError,
		Error:      err.Error(),
		Title:      previous.Title,
		Content:    previous.Content,
		Degenerate: previous.Degenerate,
		UpdatedAt:  time.Now(),
	}
	s.publish(snapshot)
	observeIngestion("error", start, len(previous.Content))
	s.logger.Error("newsletter ingestion failed", zap.String("documentURL", s.documentURL), zap.Error(err))
	return snapshot, err
}

// sanitizeAll sanitizes every distinct fragment once. Sections whose
// fragment fails are reported as unavailable.
func (s *service) sanitizeAll(result *segment.Result) (vo.ContentMap, []string) {
	index := map[string]int{}
	var unique []string
	for _, id := range result.Order {
		fragment := result.Fragments[id]
		if _, ok := index[fragment]; !ok {
			index[fragment] = len(unique)
			unique = append(unique, fragment)
		}
	}

	safe := make([]string, len(unique))
	errs := make([]error, len(unique))
	var g errgroup.Group
	g.SetLimit(sanitizeConcurrency)
	for i, fragment := range unique {
		g.Go(func() error {
			safe[i], errs[i] = s.policy.Sanitize(fragment)
			return nil
		})
	}
	_ = g.Wait()

	content := make(vo.ContentMap, len(result.Order))
	var unavailable []string
	for _, id := range result.Order {
		i := index[result.Fragments[id]]
		if errs[i] != nil {
			s.logger.Warn("section unavailable", zap.String("section", id), zap.Error(errs[i]))
			unavailable = append(unavailable, id)
			continue
		}
		content[id] = safe[i]
	}
	return content, unavailable
}

// publish stores the snapshot and notifies subscribers outside the lock.
func (s *service) publish(snapshot *vo.Snapshot) {
	s.snapshot.Store(snapshot)

	s.subscribersMutex.Lock()
	subscribers := make([]func(*vo.Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.subscribersMutex.Unlock()

	for _, fn := range subscribers {
		fn(snapshot)
	}
}
