// Package drivertest provides a scripted in-memory page implementing
// driver.Session for tests.
package drivertest

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/gstrgate/gstrgate/internal/driver"
)

// Page is a fake document. Elements are matched by exact Locator equality
// and returned in insertion (document) order.
type Page struct {
	mu       sync.Mutex
	url      string
	elements []*Element
	closed   bool

	Reloads      int
	Backs        int
	Visited      []string
	Scrolls      []int
	FindTimeouts []time.Duration

	// Hooks run after the page state changed, without the page lock held.
	OnReload   func(p *Page)
	OnBack     func(p *Page)
	OnNavigate func(p *Page, url string)
}

func NewPage() *Page {
	return &Page{}
}

// Add appends e to the document and returns it.
func (p *Page) Add(e *Element) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.page = p
	for _, c := range e.Children {
		c.page = p
	}
	p.elements = append(p.elements, e)
	return e
}

// Remove detaches e from the document.
func (p *Page) Remove(e *Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements = slices.DeleteFunc(p.elements, func(x *Element) bool { return x == e })
}

func (p *Page) SetURL(u string) {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ReloadCount is a locked read of Reloads.
func (p *Page) ReloadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Reloads
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.Visited = append(p.Visited, url)
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.Reloads++
	hook := p.OnReload
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Back(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.Backs++
	hook := p.OnBack
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Find(ctx context.Context, loc driver.Locator, timeout time.Duration) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FindTimeouts = append(p.FindTimeouts, timeout)
	if e := firstMatch(p.elements, loc); e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", driver.ErrNoSuchElement, loc)
}

func (p *Page) FindAll(ctx context.Context, loc driver.Locator) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []driver.Element
	for _, e := range p.elements {
		if e.matches(loc) && !e.Hidden {
			out = append(out, e)
		}
	}
	return out, nil
}

func (p *Page) ScrollTo(ctx context.Context, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.Scrolls = append(p.Scrolls, y)
	p.mu.Unlock()
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// firstMatch consumes one MissFinds from each matching element that is
// still scripted to miss. Callers hold the page lock.
func firstMatch(elements []*Element, loc driver.Locator) *Element {
	for _, e := range elements {
		if !e.matches(loc) || e.Hidden {
			continue
		}
		if e.MissFinds > 0 {
			e.MissFinds--
			continue
		}
		return e
	}
	return nil
}

// Element is a fake control.
type Element struct {
	Name     string
	Locators []driver.Locator
	Hidden   bool
	// MissFinds makes the next n lookups skip this element.
	MissFinds int

	Content  string
	Attrs    map[string]string
	Choices  []driver.Option
	Children []*Element

	ClickErr error
	OnClick  func() error
	OnSelect func(opt driver.Option)

	Clicks   int
	Hovers   int
	Filled   string
	Selected *driver.Option
	Shots    []string

	page *Page
}

func (e *Element) matches(loc driver.Locator) bool {
	return slices.Contains(e.Locators, loc)
}

func (e *Element) lock() func() {
	if e.page == nil {
		return func() {}
	}
	e.page.mu.Lock()
	return e.page.mu.Unlock
}

func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := e.lock()
	e.Clicks++
	err, hook := e.ClickErr, e.OnClick
	unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		return hook()
	}
	return nil
}

func (e *Element) Hover(ctx context.Context) error {
	unlock := e.lock()
	defer unlock()
	e.Hovers++
	return ctx.Err()
}

func (e *Element) Fill(ctx context.Context, text string) error {
	unlock := e.lock()
	defer unlock()
	e.Filled = text
	return ctx.Err()
}

func (e *Element) Text(ctx context.Context) (string, error) {
	unlock := e.lock()
	defer unlock()
	return e.Content, ctx.Err()
}

func (e *Element) Attribute(ctx context.Context, name string) (string, error) {
	unlock := e.lock()
	defer unlock()
	return e.Attrs[name], ctx.Err()
}

func (e *Element) Options(ctx context.Context) ([]driver.Option, error) {
	unlock := e.lock()
	defer unlock()
	return slices.Clone(e.Choices), ctx.Err()
}

func (e *Element) Select(ctx context.Context, opt driver.Option) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := e.lock()
	if !slices.Contains(e.Choices, opt) {
		unlock()
		return fmt.Errorf("%s: option %q not present", e.Name, opt.Text)
	}
	picked := opt
	e.Selected = &picked
	hook := e.OnSelect
	unlock()
	if hook != nil {
		hook(opt)
	}
	return nil
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	return ctx.Err()
}

func (e *Element) Screenshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := e.lock()
	e.Shots = append(e.Shots, path)
	unlock()
	return os.WriteFile(path, []byte("\x89PNG fake "+e.Name), 0o644)
}

func (e *Element) Find(ctx context.Context, loc driver.Locator) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := e.lock()
	defer unlock()
	if c := firstMatch(e.Children, loc); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", driver.ErrNoSuchElement, loc)
}

// SelectedText is a locked read of the selected option's text.
func (e *Element) SelectedText() string {
	unlock := e.lock()
	defer unlock()
	if e.Selected == nil {
		return ""
	}
	return e.Selected.Text
}

// ClickCount is a locked read of Clicks.
func (e *Element) ClickCount() int {
	unlock := e.lock()
	defer unlock()
	return e.Clicks
}

// ClearSelection resets the selected option, as a reload does to a real form.
func (e *Element) ClearSelection() {
	unlock := e.lock()
	e.Selected = nil
	unlock()
}

// Launcher hands out sessions built by NewSession.
type Launcher struct {
	mu         sync.Mutex
	NewSession func(downloadDir string) driver.Session
	Err        error
	Dirs       []string
	Sessions   []driver.Session
}

func (l *Launcher) Launch(ctx context.Context, downloadDir string) (driver.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	l.Dirs = append(l.Dirs, downloadDir)
	var s driver.Session
	if l.NewSession != nil {
		s = l.NewSession(downloadDir)
	} else {
		s = NewPage()
	}
	l.Sessions = append(l.Sessions, s)
	return s, nil
}

// Launches is a locked read of the number of sessions started.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Sessions)
}
