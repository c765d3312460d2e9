// Package drivertest provides an in-memory model of the automated site and
// a driver.Driver that operates it, for tests that must not start a browser.
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Nehilsa2/linkedin_outreach/account"
	"github.com/Nehilsa2/linkedin_outreach/driver"
	"github.com/Nehilsa2/linkedin_outreach/profile"
)

const DefaultBaseURL = "https://site.test"

// Page describes one profile as the site renders it.
type Page struct {
	Connected bool
	Pending   bool
	// Direct shows a Connect button in the profile header.
	Direct bool
	// Overflow offers Connect inside the "More" menu.
	Overflow bool
	// NoteBlocked lets "Add a note" be clicked but never shows the composer.
	NoteBlocked bool
	// ErrorToast is shown instead of the invite dialog when Connect is clicked.
	ErrorToast string
	// LimitAfterSend shows the weekly limit banner once an invite is sent.
	LimitAfterSend bool
	Name           string
	Headline       string
	CanMessage     bool
	// Fail makes Locate of the given targets return the error.
	Fail map[driver.Target]error
	// NavigateErr fails navigation to this profile.
	NavigateErr error
}

// Site is shared by every driver it hands out, the way one real website is
// shared by several browsers.
type Site struct {
	BaseURL     string
	ValidCookie string
	Username    string
	Password    string
	// Checkpoint sends a successful credential login to a challenge page.
	Checkpoint bool
	// FactoryErr makes Factory fail.
	FactoryErr error
	// FactoryDelay slows driver construction to widen race windows.
	FactoryDelay time.Duration

	mu       sync.Mutex
	pages    map[string]*Page
	invites  map[string][]string
	messages map[string][]string
	drivers  []*Driver
}

func NewSite() *Site {
	return &Site{
		BaseURL:     DefaultBaseURL,
		ValidCookie: "valid-session",
		pages:       make(map[string]*Page),
		invites:     make(map[string][]string),
		messages:    make(map[string][]string),
	}
}

// AddProfile registers a profile and returns its URL.
func (s *Site) AddProfile(id string, p Page) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.pages[id] = &cp
	return profile.URLFor(s.BaseURL, id)
}

// URL returns the profile URL for id without registering it.
func (s *Site) URL(id string) string {
	return profile.URLFor(s.BaseURL, id)
}

// Profile returns a snapshot of a registered profile.
func (s *Site) Profile(id string) Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pages[id]; ok {
		return *p
	}
	return Page{}
}

// Invites returns the notes of every invitation sent to id ("" for none).
func (s *Site) Invites(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.invites[id]...)
}

// Messages returns every message sent to id.
func (s *Site) Messages(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages[id]...)
}

// TotalInvites counts invitations across all profiles.
func (s *Site) TotalInvites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.invites {
		n += len(v)
	}
	return n
}

// NewDriver opens a fresh, signed-out browser on the site.
func (s *Site) NewDriver() *Driver {
	d := &Driver{site: s}
	s.mu.Lock()
	s.drivers = append(s.drivers, d)
	s.mu.Unlock()
	return d
}

// Factory adapts NewDriver to driver.Factory.
func (s *Site) Factory() driver.Factory {
	return func(ctx context.Context, _ account.Account) (driver.Driver, error) {
		if s.FactoryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.FactoryDelay):
			}
		}
		if s.FactoryErr != nil {
			return nil, s.FactoryErr
		}
		return s.NewDriver(), nil
	}
}

// Drivers returns every driver handed out so far.
func (s *Site) Drivers() []*Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Driver(nil), s.drivers...)
}

// Live counts drivers that have not been closed.
func (s *Site) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.drivers {
		if !d.closed {
			n++
		}
	}
	return n
}

// Driver is one simulated browser page.
type Driver struct {
	site *Site

	authenticated bool
	closed        bool
	current       string
	generation    int
	page          *Page
	pageID        string

	menuOpen    bool
	dialogOpen  bool
	noteOpen    bool
	toastShown  bool
	limitShown  bool
	messageOpen bool

	noteText      string
	messageDraft  string
	loginEmail    string
	loginPassword string

	navigations []string
	waits       []driver.Target
}

type element struct {
	owner      *Driver
	target     driver.Target
	generation int
	text       string
}

func (e *element) Text(context.Context) (string, error) {
	return e.text, nil
}

// Navigations lists every URL navigated to.
func (d *Driver) Navigations() []string {
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	return append([]string(nil), d.navigations...)
}

// Waits lists every target passed to WaitFor.
func (d *Driver) Waits() []driver.Target {
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	return append([]driver.Target(nil), d.waits...)
}

// Authenticated reports whether this browser is signed in.
func (d *Driver) Authenticated() bool {
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	return d.authenticated
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	return d.closed
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	if d.closed {
		return driver.ErrClosed
	}

	d.navigations = append(d.navigations, url)
	d.resetUI()
	d.page, d.pageID = nil, ""

	if id, err := profile.PublicID(url); err == nil {
		if p, ok := d.site.pages[id]; ok && p.NavigateErr != nil {
			return p.NavigateErr
		}
		if !d.authenticated {
			d.current = d.site.BaseURL + "/authwall?redirect=" + id
			return nil
		}
		d.page, d.pageID = d.site.pages[id], id
		d.current = url
		return nil
	}

	if strings.Contains(url, "/feed") && !d.authenticated {
		d.current = d.site.BaseURL + "/login?session_redirect=feed"
		return nil
	}
	d.current = url
	return nil
}

func (d *Driver) resetUI() {
	d.generation++
	d.menuOpen, d.dialogOpen, d.noteOpen = false, false, false
	d.toastShown, d.limitShown, d.messageOpen = false, false, false
	d.noteText, d.messageDraft = "", ""
}

func (d *Driver) WaitReady(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	if d.closed {
		return driver.ErrClosed
	}
	return nil
}

func (d *Driver) Locate(ctx context.Context, t driver.Target) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	return d.locate(t)
}

func (d *Driver) locate(t driver.Target) (driver.Element, error) {
	if d.closed {
		return nil, driver.ErrClosed
	}
	if d.page != nil {
		if err := d.page.Fail[t]; err != nil {
			return nil, err
		}
	}
	text, ok := d.visible(t)
	if !ok {
		return nil, nil
	}
	return &element{owner: d, target: t, generation: d.generation, text: text}, nil
}

func (d *Driver) WaitFor(ctx context.Context, t driver.Target, _ time.Duration) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	d.waits = append(d.waits, t)

	el, err := d.locate(t)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, fmt.Errorf("wait for %s: %w", t, driver.ErrTimeout)
	}
	return el, nil
}

// visible decides whether t is on screen and what text it carries.
func (d *Driver) visible(t driver.Target) (string, bool) {
	onLogin := strings.Contains(d.current, "/login")
	switch t {
	case driver.TargetLoginEmail, driver.TargetLoginPassword:
		return "", onLogin
	case driver.TargetLoginSubmit:
		return "Sign in", onLogin
	case driver.TargetErrorToast:
		if d.toastShown && d.page != nil {
			return d.page.ErrorToast, true
		}
		return "", false
	case driver.TargetInviteLimitBanner:
		return "You've reached the weekly invitation limit", d.limitShown
	}

	p := d.page
	if p == nil {
		return "", false
	}
	open := !p.Connected && !p.Pending

	switch t {
	case driver.TargetConnectedBadge:
		return "1st", p.Connected
	case driver.TargetPendingBadge:
		return "Pending", p.Pending && !p.Connected
	case driver.TargetConnectButton:
		return "Connect", open && p.Direct && !d.dialogOpen
	case driver.TargetMoreActions:
		return "More", open && p.Overflow
	case driver.TargetMoreConnect:
		return "Connect", open && p.Overflow && d.menuOpen
	case driver.TargetAddNote:
		return "Add a note", d.dialogOpen && !d.noteOpen
	case driver.TargetSendWithoutNote:
		return "Send without a note", d.dialogOpen && !d.noteOpen
	case driver.TargetNoteInput, driver.TargetSendInvite:
		return "", d.dialogOpen && d.noteOpen && !p.NoteBlocked
	case driver.TargetProfileName:
		return p.Name, p.Name != ""
	case driver.TargetProfileHeadline:
		return p.Headline, p.Headline != ""
	case driver.TargetMessageButton:
		return "Message", p.Connected && p.CanMessage
	case driver.TargetMessageInput, driver.TargetMessageSend:
		return "", d.messageOpen
	}
	return "", false
}

func (d *Driver) own(el driver.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok || e.owner != d || e.generation != d.generation {
		return nil, driver.ErrStaleElement
	}
	if d.closed {
		return nil, driver.ErrClosed
	}
	return e, nil
}

func (d *Driver) Click(ctx context.Context, el driver.Element, _ driver.ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.site.mu.Lock()
	defer d.site.mu.Unlock()

	e, err := d.own(el)
	if err != nil {
		return err
	}
	if _, ok := d.visible(e.target); !ok {
		return driver.ErrStaleElement
	}

	switch e.target {
	case driver.TargetConnectButton, driver.TargetMoreConnect:
		d.menuOpen = false
		if d.page.ErrorToast != "" {
			d.toastShown = true
			return nil
		}
		d.dialogOpen = true
	case driver.TargetMoreActions:
		d.menuOpen = true
	case driver.TargetAddNote:
		d.noteOpen = true
	case driver.TargetSendWithoutNote:
		d.sendInvite("")
	case driver.TargetSendInvite:
		d.sendInvite(d.noteText)
	case driver.TargetMessageButton:
		d.messageOpen = true
	case driver.TargetMessageSend:
		d.site.messages[d.pageID] = append(d.site.messages[d.pageID], d.messageDraft)
		d.messageDraft = ""
	case driver.TargetLoginSubmit:
		d.submitLogin()
	}
	return nil
}

func (d *Driver) sendInvite(note string) {
	d.site.invites[d.pageID] = append(d.site.invites[d.pageID], note)
	d.page.Pending = true
	d.dialogOpen, d.noteOpen = false, false
	if d.page.LimitAfterSend {
		d.limitShown = true
	}
}

func (d *Driver) submitLogin() {
	s := d.site
	ok := s.Username != "" && d.loginEmail == s.Username && d.loginPassword == s.Password
	d.generation++
	switch {
	case ok && s.Checkpoint:
		d.current = s.BaseURL + "/checkpoint/challenge/123"
	case ok:
		d.authenticated = true
		d.current = s.BaseURL + "/feed/"
	default:
		d.current = s.BaseURL + "/login?error=1"
	}
}

func (d *Driver) Fill(ctx context.Context, el driver.Element, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.site.mu.Lock()
	defer d.site.mu.Unlock()

	e, err := d.own(el)
	if err != nil {
		return err
	}
	switch e.target {
	case driver.TargetNoteInput:
		d.noteText = text
	case driver.TargetMessageInput:
		d.messageDraft = text
	case driver.TargetLoginEmail:
		d.loginEmail = text
	case driver.TargetLoginPassword:
		d.loginPassword = text
	default:
		return fmt.Errorf("target %s is not fillable", e.target)
	}
	return nil
}

func (d *Driver) Press(ctx context.Context, key driver.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	if d.closed {
		return driver.ErrClosed
	}
	if key == driver.KeyEscape {
		d.menuOpen, d.dialogOpen, d.noteOpen, d.messageOpen = false, false, false, false
	}
	return nil
}

func (d *Driver) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	if d.closed {
		return "", driver.ErrClosed
	}
	return d.current, nil
}

func (d *Driver) SetCookies(ctx context.Context, cookies []account.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	if d.closed {
		return driver.ErrClosed
	}
	for _, c := range cookies {
		if d.site.ValidCookie != "" && c.Name == "li_at" && c.Value == d.site.ValidCookie {
			d.authenticated = true
		}
	}
	return nil
}

func (d *Driver) Cookies(ctx context.Context) ([]account.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	if d.closed {
		return nil, driver.ErrClosed
	}
	if !d.authenticated {
		return nil, nil
	}
	return []account.Cookie{{Name: "li_at", Value: d.site.ValidCookie, Path: "/", SameSite: "None"}}, nil
}

func (d *Driver) Close() error {
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	if d.closed {
		return errors.New("drivertest: closed twice")
	}
	d.closed = true
	return nil
}

var _ driver.Driver = (*Driver)(nil)
