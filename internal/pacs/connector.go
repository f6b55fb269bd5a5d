// Package pacs drives a headless browser session against the imaging
// portal. The portal has no API: data is pulled out of its pages, and the
// study viewer populates a global object inside an embedded frame with no
// completion signal, so extraction polls that frame's isolated context.
package pacs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"commandcenter/pkg/poll"
	"commandcenter/pkg/types"
)

// Portal selectors and markers.
const (
	selUsername     = `#username`
	selPassword     = `#password`
	selLoginButton  = `#login-submit`
	selSearchInput  = `#patient-search`
	selSearchButton = `#search-submit`
	markerLoggedIn  = `#search-toolbar`  // present only after authentication
	markerResults   = `#study-results`   // present once a search resolves
	markerViewer    = `#viewer-frame`    // hosts the study viewer iframe
	viewerURLPart   = "/viewer/"         // identifies the iframe's target
)

type Config struct {
	BaseURL       string
	Username      string
	Password      string
	Headless      bool
	MarkerTimeout time.Duration // bound on login and search marker waits
	PollInterval  time.Duration // viewer frame polling cadence
	PollAttempts  int
	DetailLimit   int // studies to pull details for per patient
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MarkerTimeout == 0 {
		out.MarkerTimeout = 15 * time.Second
	}
	if out.PollInterval == 0 {
		out.PollInterval = 500 * time.Millisecond
	}
	if out.PollAttempts == 0 {
		out.PollAttempts = 20
	}
	if out.DetailLimit == 0 {
		out.DetailLimit = 3
	}
	return out
}

// Connector holds at most one live browser session per process. The mutex
// serializes every navigation-dependent operation against that session:
// navigating away while another operation reads the page is undefined.
type Connector struct {
	cfg Config
	log zerolog.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closed        bool
}

// New builds the connector. A connector without a base URL is valid but
// unconfigured: every operation fails with ErrNotConfigured and no browser
// is ever launched, so the process still comes up with imaging degraded.
// Credentials are checked at login time.
func New(cfg Config, log zerolog.Logger) *Connector {
	return &Connector{
		cfg: cfg.withDefaults(),
		log: log.With().Str("component", "pacs").Logger(),
	}
}

// ensureSession lazily starts the browser on first use and reuses it
// afterwards, so repeated aggregations skip re-authentication.
// Caller holds c.mu.
func (c *Connector) ensureSession() error {
	if c.closed {
		return fmt.Errorf("pacs: session closed")
	}
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("pacs: base url: %w", types.ErrNotConfigured)
	}
	if c.browserCtx != nil {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("pacs: start browser: %w", err)
	}

	c.browserCtx = browserCtx
	c.browserCancel = browserCancel
	c.allocCancel = allocCancel
	c.log.Info().Msg("browser session started")
	return nil
}

// Login navigates to the portal and authenticates. If the session already
// carries the post-login marker it returns immediately.
func (c *Connector) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

func (c *Connector) login(ctx context.Context) error {
	if err := c.ensureSession(); err != nil {
		return err
	}

	tctx, cancel := c.bounded(ctx)
	defer cancel()

	if err := chromedp.Run(tctx, chromedp.Navigate(c.cfg.BaseURL)); err != nil {
		return fmt.Errorf("pacs: open portal: %w", err)
	}

	var authenticated bool
	if err := chromedp.Run(tctx, chromedp.Evaluate(
		fmt.Sprintf(`document.querySelector(%q) !== null`, markerLoggedIn), &authenticated)); err != nil {
		return fmt.Errorf("pacs: probe session: %w", err)
	}
	if authenticated {
		return nil
	}

	if c.cfg.Username == "" || c.cfg.Password == "" {
		return fmt.Errorf("pacs: credentials: %w", types.ErrNotConfigured)
	}

	err := chromedp.Run(tctx,
		chromedp.WaitVisible(selUsername),
		chromedp.SendKeys(selUsername, c.cfg.Username),
		chromedp.SendKeys(selPassword, c.cfg.Password),
		chromedp.Click(selLoginButton),
		chromedp.WaitVisible(markerLoggedIn),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("pacs: login marker never appeared: %w", types.ErrAuthenticationFailed)
		}
		return fmt.Errorf("pacs: login: %w", err)
	}
	c.log.Info().Msg("portal login succeeded")
	return nil
}

// SearchPatient drives the portal search UI for the given MRN.
func (c *Connector) SearchPatient(ctx context.Context, mrn string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searchPatient(ctx, mrn)
}

func (c *Connector) searchPatient(ctx context.Context, mrn string) error {
	if err := c.ensureSession(); err != nil {
		return err
	}

	tctx, cancel := c.bounded(ctx)
	defer cancel()

	err := chromedp.Run(tctx,
		chromedp.WaitVisible(selSearchInput),
		chromedp.Clear(selSearchInput),
		chromedp.SendKeys(selSearchInput, mrn),
		chromedp.Click(selSearchButton),
		chromedp.WaitVisible(markerResults),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("pacs: no results for %s: %w", mrn, types.ErrNotFound)
		}
		return fmt.Errorf("pacs: search: %w", err)
	}
	return nil
}

// ListStudies extracts the study summaries from the loaded results view.
func (c *Connector) ListStudies(ctx context.Context) ([]types.Study, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listStudies(ctx)
}

const extractStudiesJS = `
Array.from(document.querySelectorAll('#study-results tr[data-accession]')).map(row => ({
	date: row.querySelector('.study-date')?.textContent?.trim() || '',
	procedure: row.querySelector('.study-procedure')?.textContent?.trim() || '',
	accession: row.dataset.accession,
	ref: row.querySelector('a.study-link')?.getAttribute('href') || ''
}))`

func (c *Connector) listStudies(ctx context.Context) ([]types.Study, error) {
	if err := c.ensureSession(); err != nil {
		return nil, err
	}

	tctx, cancel := c.bounded(ctx)
	defer cancel()

	var studies []types.Study
	if err := chromedp.Run(tctx, chromedp.Evaluate(extractStudiesJS, &studies)); err != nil {
		return nil, fmt.Errorf("pacs: extract studies: %w", err)
	}
	return studies, nil
}

// StudyDetail opens the study view and pulls the payload its viewer frame
// populates asynchronously. There is no completion signal, so the frame's
// isolated context is polled at a fixed interval with a fixed attempt
// ceiling; interval times attempts is the operation's worst-case latency.
func (c *Connector) StudyDetail(ctx context.Context, ref string) (*types.StudyDetail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.studyDetail(ctx, ref)
}

func (c *Connector) studyDetail(ctx context.Context, ref string) (*types.StudyDetail, error) {
	if err := c.ensureSession(); err != nil {
		return nil, err
	}

	url := ref
	if strings.HasPrefix(ref, "/") {
		url = strings.TrimRight(c.cfg.BaseURL, "/") + ref
	}

	tctx, cancel := c.bounded(ctx)
	defer cancel()

	if err := chromedp.Run(tctx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(markerViewer),
	); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("pacs: study view: %w", types.ErrTimeout)
		}
		return nil, fmt.Errorf("pacs: open study: %w", err)
	}

	var serialized string
	err := poll.Until(ctx, c.cfg.PollInterval, c.cfg.PollAttempts, func(pctx context.Context) (bool, error) {
		frame, err := c.viewerTarget(pctx)
		if err != nil {
			return false, err
		}
		if frame == nil {
			return false, nil // frame not attached yet
		}

		ictx, icancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(frame.TargetID))
		defer icancel()

		var raw string
		if err := chromedp.Run(ictx, chromedp.Evaluate(
			`JSON.stringify(window.studyData || null)`, &raw)); err != nil {
			return false, nil // frame still loading, try again next tick
		}
		if raw == "" || raw == "null" {
			return false, nil
		}
		serialized = raw
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pacs: viewer data: %w", err)
	}

	var detail types.StudyDetail
	if err := json.Unmarshal([]byte(serialized), &detail); err != nil {
		return nil, fmt.Errorf("pacs: decode viewer data: %w", err)
	}
	return &detail, nil
}

// viewerTarget finds the viewer iframe's isolated execution context among
// the browser's attached targets.
func (c *Connector) viewerTarget(ctx context.Context) (*target.Info, error) {
	infos, err := chromedp.Targets(c.browserCtx)
	if err != nil {
		return nil, fmt.Errorf("pacs: enumerate targets: %w", err)
	}
	for _, info := range infos {
		if info.Type == "iframe" && strings.Contains(info.URL, viewerURLPart) {
			return info, nil
		}
	}
	return nil, nil
}

// Studies is the composite fetch the aggregation service calls: login,
// search, list, then best-effort details for the most recent studies.
// Detail extraction failures degrade to a shorter detail list; list-level
// failures propagate.
func (c *Connector) Studies(ctx context.Context, mrn string) ([]types.Study, []types.StudyDetail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.login(ctx); err != nil {
		return nil, nil, err
	}
	if err := c.searchPatient(ctx, mrn); err != nil {
		return nil, nil, err
	}
	studies, err := c.listStudies(ctx)
	if err != nil {
		return nil, nil, err
	}

	var details []types.StudyDetail
	for _, study := range detailWorthy(studies, c.cfg.DetailLimit) {
		detail, err := c.studyDetail(ctx, study.Ref)
		if err != nil {
			c.log.Warn().Err(err).Str("accession", study.Accession).Msg("study detail unavailable")
			continue
		}
		details = append(details, *detail)
	}
	return studies, details, nil
}

// detailWorthy picks up to limit studies to pull viewer details for.
// Studies without a viewer link are skipped; they never consume the limit
// and never cut off the studies behind them.
func detailWorthy(studies []types.Study, limit int) []types.Study {
	var out []types.Study
	for _, s := range studies {
		if len(out) == limit {
			break
		}
		if s.Ref == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Close releases the browser session. Idempotent; called on every shutdown
// path so the browser process is never leaked.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.browserCtx = nil
	c.log.Info().Msg("browser session released")
	return nil
}

// bounded derives a marker-timeout context from the browser session that is
// also cancelled when the caller's ctx is.
func (c *Connector) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(c.browserCtx, c.cfg.MarkerTimeout)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}
