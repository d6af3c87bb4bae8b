// internal/browser/session/allocator_test.go
package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/scraperflow/internal/config"
)

func TestFlags(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg := config.NewDefaultConfig().Browser()
		flags := Flags(cfg, "")
		assert.Equal(t, "new", flags["headless"])
		assert.Equal(t, "1280,800", flags["window-size"])
		assert.Equal(t, "en-US", flags["lang"])
		assert.Equal(t, "AutomationControlled", flags["disable-blink-features"])
		assert.NotContains(t, flags, "proxy-server")
		assert.NotContains(t, flags, "remote-debugging-port")
	})

	t.Run("Headful", func(t *testing.T) {
		assert.NotContains(t, Flags(config.BrowserConfig{Headless: false}, ""), "headless")
	})

	t.Run("CacheAndTLS", func(t *testing.T) {
		flags := Flags(config.BrowserConfig{DisableCache: true, IgnoreTLSErrors: true}, "")
		assert.Equal(t, "0", flags["disk-cache-size"])
		assert.Equal(t, true, flags["disable-cache"])
		assert.Equal(t, true, flags["ignore-certificate-errors"])
		assert.Equal(t, true, flags["allow-insecure-localhost"])
	})

	t.Run("ProxyAndDebugPort", func(t *testing.T) {
		flags := Flags(config.BrowserConfig{RemoteDebuggingPort: 9222}, "127.0.0.1:4711")
		assert.Equal(t, "http://127.0.0.1:4711", flags["proxy-server"])
		assert.Equal(t, "9222", flags["remote-debugging-port"])
	})

	t.Run("ArgsOverrideDefaults", func(t *testing.T) {
		flags := Flags(config.BrowserConfig{Args: []string{"--no-sandbox=false", "--custom-switch", "--", "--lang=de-DE"}}, "")
		assert.Equal(t, "false", flags["no-sandbox"])
		assert.Equal(t, true, flags["custom-switch"])
		assert.Equal(t, "de-DE", flags["lang"])
		assert.NotContains(t, flags, "")
	})
}

func TestDefaultAllocatorOptions(t *testing.T) {
	cfg := config.BrowserConfig{Headless: true, ExecPath: "/usr/bin/chromium", UserAgent: "test-agent"}
	flags := Flags(cfg, "")
	assert.Len(t, DefaultAllocatorOptions(cfg, ""), len(flags)+2)
}
