package stealth

import (
	"fmt"
	"math/rand"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserConfig controls how a hardened browser is launched.
type BrowserConfig struct {
	Headless  bool
	Bin       string
	UserAgent string
	Viewport  Viewport
}

// Viewport is a browser window size.
type Viewport struct {
	Width  int
	Height int
}

var commonViewports = []Viewport{
	{1920, 1080},
	{1366, 768},
	{1536, 864},
	{1440, 900},
	{1600, 900},
	{1680, 1050},
}

var commonUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0.0.0",
}

// NewBrowserConfig returns a config with a randomised user agent and a
// viewport jittered by a few pixels.
func NewBrowserConfig(headless bool, bin string) BrowserConfig {
	vp := commonViewports[rand.Intn(len(commonViewports))]
	vp.Width += rand.Intn(20) - 10
	vp.Height += rand.Intn(20) - 10

	return BrowserConfig{
		Headless:  headless,
		Bin:       bin,
		UserAgent: commonUserAgents[rand.Intn(len(commonUserAgents))],
		Viewport:  vp,
	}
}

// NewLauncher returns a Chrome launcher with the automation switches
// removed.
func NewLauncher(cfg BrowserConfig) *launcher.Launcher {
	l := launcher.New().
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-infobars").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-dev-shm-usage").
		Set("disable-extensions").
		Set("window-size", fmt.Sprintf("%d,%d", cfg.Viewport.Width, cfg.Viewport.Height)).
		Set("user-agent", cfg.UserAgent).
		Headless(cfg.Headless).
		Leakless(false)

	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	return l
}

// SetupPage applies viewport, user agent and the fingerprint patch to a page
// before its first navigation.
func SetupPage(page *rod.Page, cfg BrowserConfig) error {
	err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.Viewport.Width,
		Height:            cfg.Viewport.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}

	if _, err := page.EvalOnNewDocument(fingerprintPatch); err != nil {
		return fmt.Errorf("inject fingerprint patch: %w", err)
	}
	return nil
}

// fingerprintPatch masks the navigator properties headless Chrome leaks.
const fingerprintPatch = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });

Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'], configurable: true });
Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 8, configurable: true });
Object.defineProperty(navigator, 'deviceMemory', { get: () => 8, configurable: true });

Object.defineProperty(navigator, 'plugins', {
	get: () => {
		const list = [
			{ name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer' },
			{ name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
		];
		list.item = (i) => list[i] || null;
		list.namedItem = (n) => list.find(p => p.name === n) || null;
		return list;
	},
	configurable: true
});

window.chrome = window.chrome || {};
window.chrome.runtime = window.chrome.runtime || {};

const query = window.navigator.permissions && window.navigator.permissions.query;
if (query) {
	window.navigator.permissions.query = (p) => (
		p.name === 'notifications'
			? Promise.resolve({ state: Notification.permission })
			: query(p)
	);
}
`
