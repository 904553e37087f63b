package driver

import (
	"context"
	"encoding/json"
	"log"

	"github.com/heyglassy/flyspace/pkg/flyspace"
)

// Navigator is the plain browser half of the driver.
type Navigator interface {
	flyspace.BrowserContext
	Goto(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Reset(ctx context.Context) error
}

// Capabilities is the AI half of the driver. *Client implements it.
type Capabilities interface {
	Act(ctx context.Context, pageURL string, arg any) (*flyspace.ActResult, error)
	Extract(ctx context.Context, pageURL string, arg any) (json.RawMessage, error)
	Observe(ctx context.Context, pageURL string, arg any) ([]flyspace.ObserveResult, error)
}

// Driver combines a Navigator and Capabilities into one automation driver.
type Driver struct {
	nav  Navigator
	page *Page
}

// New creates a Driver.
func New(nav Navigator, ai Capabilities) *Driver {
	return &Driver{nav: nav, page: &Page{nav: nav, ai: ai}}
}

// Page returns the raw, unrecorded page.
func (d *Driver) Page() flyspace.Page { return d.page }

// Context returns the browser context.
func (d *Driver) Context() flyspace.BrowserContext { return d.nav }

// Reset returns the page to about:blank.
func (d *Driver) Reset(ctx context.Context) error { return d.nav.Reset(ctx) }

// Page is a flyspace.Page whose capability calls go to the AI bridge,
// addressed by the tab's current URL.
type Page struct {
	nav Navigator
	ai  Capabilities
}

func (p *Page) Goto(ctx context.Context, url string) error { return p.nav.Goto(ctx, url) }

func (p *Page) URL(ctx context.Context) (string, error) { return p.nav.URL(ctx) }

func (p *Page) Title(ctx context.Context) (string, error) { return p.nav.Title(ctx) }

func (p *Page) Act(ctx context.Context, arg any) (*flyspace.ActResult, error) {
	return p.ai.Act(ctx, p.currentURL(ctx), arg)
}

func (p *Page) Extract(ctx context.Context, arg any) (json.RawMessage, error) {
	return p.ai.Extract(ctx, p.currentURL(ctx), arg)
}

func (p *Page) Observe(ctx context.Context, arg any) ([]flyspace.ObserveResult, error) {
	return p.ai.Observe(ctx, p.currentURL(ctx), arg)
}

func (p *Page) currentURL(ctx context.Context) string {
	url, err := p.nav.URL(ctx)
	if err != nil {
		log.Printf("WARN: Failed to read page url: %v", err)
	}
	return url
}
