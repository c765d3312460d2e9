package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/Nehilsa2/linkedin_outreach/account"
	"github.com/Nehilsa2/linkedin_outreach/stealth"
)

const pollInterval = 250 * time.Millisecond

// RodConfig configures a Chrome-backed driver.
type RodConfig struct {
	Headless bool
	Bin      string
	// Timeout bounds every single browser interaction.
	Timeout time.Duration
	// Humanize moves the pointer onto click targets and types text one
	// key at a time.
	Humanize bool
}

// Rod drives one hardened Chrome page through go-rod.
type Rod struct {
	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	timeout  time.Duration
	closed   bool
	log      *zap.Logger

	humanize bool
	mouse    stealth.Mouse
	typist   stealth.Typist
}

type rodElement struct {
	owner *Rod
	el    *rod.Element
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	el := e.el.Context(ctx).Timeout(e.owner.timeout)
	defer el.CancelTimeout()

	text, err := el.Text()
	return text, wrapRodErr(err)
}

// NewRodFactory returns a Factory that launches one browser per session.
func NewRodFactory(cfg RodConfig, log *zap.Logger) Factory {
	return func(ctx context.Context, acct account.Account) (Driver, error) {
		return LaunchRod(ctx, cfg, log.With(zap.String("account", acct.Handle())))
	}
}

// LaunchRod starts Chrome with the stealth launcher and opens a patched page.
func LaunchRod(ctx context.Context, cfg RodConfig, log *zap.Logger) (*Rod, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	bc := stealth.NewBrowserConfig(cfg.Headless, cfg.Bin)

	l := stealth.NewLauncher(bc).Context(ctx)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	// Detach from the launch context so the browser lives as long as the
	// session, not the request that created it.
	browser = browser.Context(context.Background())

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := stealth.SetupPage(page, bc); err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, err
	}

	log.Debug("browser launched",
		zap.Int("viewport_width", bc.Viewport.Width),
		zap.Int("viewport_height", bc.Viewport.Height),
		zap.Bool("headless", bc.Headless))

	return &Rod{
		launcher: l,
		browser:  browser,
		page:     page,
		timeout:  cfg.Timeout,
		log:      log,
		humanize: cfg.Humanize,
		mouse:    stealth.DefaultMouse(),
		typist:   stealth.DefaultTypist(),
	}, nil
}

// bounded returns the page bound to ctx with the per-call timeout applied.
func (d *Rod) bounded(ctx context.Context) (*rod.Page, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, nil, ErrClosed
	}
	p := d.page.Context(ctx).Timeout(d.timeout)
	return p, func() { p.CancelTimeout() }, nil
}

func (d *Rod) Navigate(ctx context.Context, url string) error {
	p, done, err := d.bounded(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, wrapRodErr(err))
	}
	return nil
}

func (d *Rod) WaitReady(ctx context.Context) error {
	p, done, err := d.bounded(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", wrapRodErr(err))
	}
	// Single-page navigations keep mutating the DOM after load; a page that
	// never settles is still usable.
	if err := p.WaitStable(time.Second); err != nil {
		d.log.Debug("page did not settle", zap.Error(err))
	}
	return nil
}

func (d *Rod) Locate(ctx context.Context, t Target) (Element, error) {
	sels, ok := selectors[t]
	if !ok {
		return nil, fmt.Errorf("no selectors for target %q", t)
	}

	p, done, err := d.bounded(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	p = p.Sleeper(rod.NotFoundSleeper)

	for _, s := range sels {
		var el *rod.Element
		if s.text != "" {
			el, err = p.ElementR(s.css, s.text)
		} else {
			el, err = p.Element(s.css)
		}
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("locate %s: %w", t, wrapRodErr(err))
		}
		if visible, verr := el.Visible(); verr != nil || !visible {
			continue
		}
		return &rodElement{owner: d, el: el}, nil
	}
	return nil, nil
}

func (d *Rod) WaitFor(ctx context.Context, t Target, timeout time.Duration) (Element, error) {
	deadline := time.Now().Add(timeout)
	for {
		el, err := d.Locate(ctx, t)
		if err != nil || el != nil {
			return el, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("wait for %s: %w", t, ErrTimeout)
		}
		if err := stealth.Sleep(ctx, pollInterval); err != nil {
			return nil, err
		}
	}
}

func (d *Rod) element(ctx context.Context, el Element) (*rod.Element, func(), error) {
	re, ok := el.(*rodElement)
	if !ok || re.owner != d {
		return nil, nil, ErrStaleElement
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, nil, ErrClosed
	}
	bound := re.el.Context(ctx).Timeout(d.timeout)
	return bound, func() { bound.CancelTimeout() }, nil
}

func (d *Rod) Click(ctx context.Context, el Element, opts ClickOptions) error {
	e, done, err := d.element(ctx, el)
	if err != nil {
		return err
	}
	defer done()

	if opts.Force {
		_, err = e.Eval(`() => this.click()`)
	} else {
		if err := e.ScrollIntoView(); err != nil {
			return fmt.Errorf("scroll into view: %w", wrapRodErr(err))
		}
		err = d.click(ctx, e)
	}
	if err != nil {
		return fmt.Errorf("click: %w", wrapRodErr(err))
	}
	return stealth.Sleep(ctx, opts.Settle)
}

func (d *Rod) Fill(ctx context.Context, el Element, text string) error {
	e, done, err := d.element(ctx, el)
	if err != nil {
		return err
	}
	defer done()

	if err := e.Focus(); err != nil {
		return fmt.Errorf("focus: %w", wrapRodErr(err))
	}
	if err := e.SelectAllText(); err != nil {
		// contenteditable message boxes do not support text selection
		d.log.Debug("select all failed", zap.Error(err))
	}
	if !d.humanize {
		if err := e.Input(text); err != nil {
			return fmt.Errorf("input: %w", wrapRodErr(err))
		}
		return nil
	}

	page, release, err := d.bounded(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := d.typist.Type(ctx, page, text); err != nil {
		return fmt.Errorf("type: %w", wrapRodErr(err))
	}
	return nil
}

// click presses the left button on e, travelling there first when
// humanized.
func (d *Rod) click(ctx context.Context, e *rod.Element) error {
	if !d.humanize {
		return e.Click(proto.InputMouseButtonLeft, 1)
	}
	page, release, err := d.bounded(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.mouse.Click(ctx, page, e)
}

var rodKeys = map[Key]input.Key{
	KeyEscape: input.Escape,
	KeyEnter:  input.Enter,
}

func (d *Rod) Press(ctx context.Context, key Key) error {
	k, ok := rodKeys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	p, done, err := d.bounded(ctx)
	if err != nil {
		return err
	}
	defer done()

	return wrapRodErr(p.Keyboard.Press(k))
}

func (d *Rod) URL(ctx context.Context) (string, error) {
	p, done, err := d.bounded(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	info, err := p.Info()
	if err != nil {
		return "", wrapRodErr(err)
	}
	return info.URL, nil
}

func (d *Rod) SetCookies(ctx context.Context, cookies []account.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(account.NormalizeSameSite(c.SameSite)),
			Expires:  proto.TimeSinceEpoch(c.Expires),
		})
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return wrapRodErr(d.browser.Context(ctx).SetCookies(params))
}

func (d *Rod) Cookies(ctx context.Context) ([]account.Cookie, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	b := d.browser.Context(ctx)
	d.mu.Unlock()

	raw, err := b.GetCookies()
	if err != nil {
		return nil, wrapRodErr(err)
	}
	out := make([]account.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, account.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		})
	}
	return out, nil
}

// Close shuts the browser down and removes its profile directory. It is
// safe to call more than once.
func (d *Rod) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	err := d.browser.Close()
	d.launcher.Kill()
	d.launcher.Cleanup()
	return err
}

func isNotFound(err error) bool {
	var nf *rod.ElementNotFoundError
	return errors.As(err, &nf)
}

func wrapRodErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

var _ Driver = (*Rod)(nil)
