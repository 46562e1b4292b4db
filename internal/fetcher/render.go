package fetcher

import (
	"context"
	"net/http"
	"sync"
	"time"

	pw "github.com/playwright-community/playwright-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BrowserOptions configures the headless renderer.
type BrowserOptions struct {
	Timeout time.Duration
	// MaxPages bounds concurrently open pages.
	MaxPages int
}

// BrowserRenderer renders pages in headless Chromium via Playwright.
type BrowserRenderer struct {
	opts    BrowserOptions
	pw      *pw.Playwright
	browser pw.Browser
	pages   chan struct{}

	closeOnce sync.Once
}

// NewBrowserRenderer starts Playwright and launches Chromium.
func NewBrowserRenderer(opts BrowserOptions) (*BrowserRenderer, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 2
	}

	instance, err := pw.Run()
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: start playwright")
	}
	browser, err := instance.Chromium.Launch(pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(true),
	})
	if err != nil {
		_ = instance.Stop()
		return nil, eris.Wrap(err, "fetcher: launch chromium")
	}
	return &BrowserRenderer{
		opts:    opts,
		pw:      instance,
		browser: browser,
		pages:   make(chan struct{}, opts.MaxPages),
	}, nil
}

// Render navigates to url, waits for network idle and returns the DOM.
func (r *BrowserRenderer) Render(ctx context.Context, url string) (*Response, error) {
	select {
	case r.pages <- struct{}{}:
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "fetcher: render wait")
	}
	defer func() { <-r.pages }()

	timeout := r.opts.Timeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}

	page, err := r.browser.NewPage()
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: new page")
	}
	defer page.Close() //nolint:errcheck

	resp, err := page.Goto(url, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateNetworkidle,
		Timeout:   pw.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: render %s", url)
	}

	html, err := page.Content()
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read rendered content %s", url)
	}

	out := &Response{
		URL:      url,
		FinalURL: page.URL(),
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:     []byte(html),
	}
	if resp != nil {
		out.Status = resp.Status()
	}
	zap.L().Debug("fetcher: rendered page",
		zap.String("url", url),
		zap.Int("status", out.Status),
		zap.Int("bytes", len(out.Body)),
	)
	return out, nil
}

// Close shuts down the browser and Playwright driver.
func (r *BrowserRenderer) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if cerr := r.browser.Close(); cerr != nil {
			err = eris.Wrap(cerr, "fetcher: close browser")
		}
		if serr := r.pw.Stop(); serr != nil && err == nil {
			err = eris.Wrap(serr, "fetcher: stop playwright")
		}
	})
	return err
}
