// internal/browser/session/allocator.go
package session

import (
	"sort"
	"strconv"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/scraperflow/internal/config"
)

// Flags returns the command line switches of the browser process. proxyAddr,
// when set, is the host:port of the local forwarding proxy.
func Flags(cfg config.BrowserConfig, proxyAddr string) map[string]any {
	flags := map[string]any{
		"no-sandbox":               true,
		"disable-gpu":              true,
		"no-first-run":             true,
		"no-default-browser-check": true,
		"disable-dev-shm-usage":    true,
		"hide-scrollbars":          true,
		"mute-audio":               true,
		// Keeps navigator.webdriver false, which challenge pages check.
		"disable-blink-features": "AutomationControlled",
		"lang":                   cfg.Locale,
	}
	if cfg.Headless {
		flags["headless"] = "new"
	}
	if cfg.DisableCache {
		flags["disk-cache-size"] = "0"
		flags["media-cache-size"] = "0"
		flags["disable-cache"] = true
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		flags["window-size"] = strconv.FormatInt(cfg.Viewport.Width, 10) + "," + strconv.FormatInt(cfg.Viewport.Height, 10)
	}
	if cfg.RemoteDebuggingPort > 0 {
		flags["remote-debugging-port"] = strconv.Itoa(cfg.RemoteDebuggingPort)
	}
	if proxyAddr != "" {
		flags["proxy-server"] = "http://" + proxyAddr
	}
	// Extra args win over the defaults. "--name=value" sets a value, a bare
	// "--name" a switch.
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags[key] = value
		} else {
			flags[key] = true
		}
	}
	return flags
}

// DefaultAllocatorOptions builds the exec allocator options for one browser.
func DefaultAllocatorOptions(cfg config.BrowserConfig, proxyAddr string) []chromedp.ExecAllocatorOption {
	flags := Flags(cfg, proxyAddr)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := make([]chromedp.ExecAllocatorOption, 0, len(names)+2)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}
