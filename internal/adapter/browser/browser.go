// Package browser drives a Chrome tab over the DevTools protocol.
package browser

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// BlankURL is the page a fresh or reset tab shows.
const BlankURL = "about:blank"

// Config selects the browser to drive.
type Config struct {
	// CDPURL attaches to a running browser. When empty a local Chrome is
	// started.
	CDPURL     string
	Headless   bool
	ChromePath string
}

// Browser is one Chrome tab. It implements navigation, the browser context
// and page reset; the AI capabilities live elsewhere.
type Browser struct {
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// New starts or attaches to a browser and opens a blank tab.
func New(cfg Config) (*Browser, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if url := strings.TrimSpace(cfg.CDPURL); url != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), url)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", cfg.Headless),
		)
		if path := strings.TrimSpace(cfg.ChromePath); path != "" {
			opts = append(opts, chromedp.ExecPath(path))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tabCtx, chromedp.Navigate(BlankURL)); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	return &Browser{
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}, nil
}

// run executes actions on the tab, aborting when ctx ends.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Goto navigates the tab.
func (b *Browser) Goto(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url))
}

// Reset navigates the tab to about:blank.
func (b *Browser) Reset(ctx context.Context) error {
	return b.Goto(ctx, BlankURL)
}

// URL returns the tab's current location.
func (b *Browser) URL(ctx context.Context) (string, error) {
	var url string
	err := b.run(ctx, chromedp.Location(&url))
	return url, err
}

// Title returns the tab's document title.
func (b *Browser) Title(ctx context.Context) (string, error) {
	var title string
	err := b.run(ctx, chromedp.Title(&title))
	return title, err
}

// ClearCookies removes every cookie of the browser.
func (b *Browser) ClearCookies(ctx context.Context) error {
	return b.run(ctx, network.ClearBrowserCookies())
}

// SetExtraHeaders sends headers with every request of the tab.
func (b *Browser) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return b.run(ctx, network.Enable(), network.SetExtraHTTPHeaders(h))
}

// Close closes the tab and the browser it started.
func (b *Browser) Close() {
	if err := chromedp.Cancel(b.tabCtx); err != nil {
		log.Printf("WARN: Failed to close browser tab: %v", err)
	}
	b.tabCancel()
	b.allocCancel()
}
