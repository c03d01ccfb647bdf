// Package render defines the page-rendering contract shared by the headless
// and static fetchers.
package render

import (
	"context"
	"fmt"
	"net/http"
)

// Request describes one page to render.
type Request struct {
	URL string
	// WaitSelector is a CSS selector that must be present before the DOM is
	// read. Renderers that cannot wait (static HTTP) ignore it.
	WaitSelector string
	Headers      http.Header
}

// Page is the rendered DOM snapshot.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
}

// Renderer returns a page's markup after any client-side rendering is done.
type Renderer interface {
	Render(ctx context.Context, req Request) (Page, error)
}

// StatusError reports a document response outside 2xx/3xx.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

// CheckStatus returns a StatusError when the page status is 400 or higher.
func CheckStatus(p Page) error {
	if p.StatusCode >= http.StatusBadRequest {
		return &StatusError{URL: p.URL, StatusCode: p.StatusCode}
	}
	return nil
}
