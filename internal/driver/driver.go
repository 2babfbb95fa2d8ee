// Package driver defines the automation-driver primitives the portal
// workflows are written against. Single calls are assumed reliable; the
// workflows above them are not.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoSuchElement is returned by Find when nothing matched within the timeout.
var ErrNoSuchElement = errors.New("no such element")

// By selects how a Locator's Value is interpreted.
type By string

const (
	ByID              By = "id"
	ByName            By = "name"
	ByCSS             By = "css"
	ByXPath           By = "xpath"
	ByLinkText        By = "link_text"
	ByPartialLinkText By = "partial_link_text"
)

// Locator is one way of finding a control.
type Locator struct {
	By    By
	Value string
}

func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.By, l.Value)
}

func ID(v string) Locator              { return Locator{By: ByID, Value: v} }
func Name(v string) Locator            { return Locator{By: ByName, Value: v} }
func CSS(v string) Locator             { return Locator{By: ByCSS, Value: v} }
func XPath(v string) Locator           { return Locator{By: ByXPath, Value: v} }
func LinkText(v string) Locator        { return Locator{By: ByLinkText, Value: v} }
func PartialLinkText(v string) Locator { return Locator{By: ByPartialLinkText, Value: v} }

// Option is one entry of a select control.
type Option struct {
	Text  string
	Value string
}

// Element is a resolved control on the current page.
type Element interface {
	Click(ctx context.Context) error
	Hover(ctx context.Context) error
	Fill(ctx context.Context, text string) error
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	Options(ctx context.Context) ([]Option, error)
	Select(ctx context.Context, opt Option) error
	ScrollIntoView(ctx context.Context) error
	Screenshot(ctx context.Context, path string) error
	// Find returns the first descendant matching loc without waiting.
	Find(ctx context.Context, loc Locator) (Element, error)
}

// Session is one exclusively owned browser page. It is not safe for
// concurrent use.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Back(ctx context.Context) error
	URL() string
	// Find waits up to timeout for the first element matching loc in document order.
	Find(ctx context.Context, loc Locator, timeout time.Duration) (Element, error)
	// FindAll returns every element currently matching loc.
	FindAll(ctx context.Context, loc Locator) ([]Element, error)
	ScrollTo(ctx context.Context, y int) error
	Close() error
}

// Launcher starts sessions whose downloads land in downloadDir.
type Launcher interface {
	Launch(ctx context.Context, downloadDir string) (Session, error)
}
