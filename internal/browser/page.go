package browser

import (
	"context"

	"github.com/chromedp/chromedp"
)

// Page drives the DOM of the tab carried by ctx. ctx must derive from a
// context returned by Chrome.Attach.
type Page struct{}

// WaitVisible blocks until an element matching sel is visible.
func (Page) WaitVisible(ctx context.Context, sel string) error {
	return chromedp.Run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

// Text returns the visible text of the first element matching sel.
func (Page) Text(ctx context.Context, sel string) (string, error) {
	var out string
	err := chromedp.Run(ctx, chromedp.Text(sel, &out, chromedp.ByQuery, chromedp.NodeVisible))
	return out, err
}

// Click clicks the first element matching sel.
func (Page) Click(ctx context.Context, sel string) error {
	return chromedp.Run(ctx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible))
}

// SetValue sets the value of a form control.
func (Page) SetValue(ctx context.Context, sel, value string) error {
	return chromedp.Run(ctx, chromedp.SetValue(sel, value, chromedp.ByQuery))
}

// Evaluate runs js in the page and decodes its result into out.
func (Page) Evaluate(ctx context.Context, js string, out any) error {
	return chromedp.Run(ctx, chromedp.Evaluate(js, out))
}
