// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/internal/config"
	"github.com/xkilldash9x/scraperflow/internal/interpreter"
	"github.com/xkilldash9x/scraperflow/internal/mocks"
	"github.com/xkilldash9x/scraperflow/internal/observability"
)

// fakeBrowser serves a mocks.Site in place of Chrome.
type fakeBrowser struct {
	*mocks.Site
	closed atomic.Int32
}

func (b *fakeBrowser) Close(context.Context) error {
	b.closed.Add(1)
	return nil
}

// resetForTest restores package state shared between command trees.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	t.Setenv(config.EnvPrefix+"_DATABASE_URL", "")
	observability.ResetForTest()
	observability.Initialize(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"}, zapcoreDiscard{})

	original := launchBrowser
	t.Cleanup(func() {
		launchBrowser = original
		observability.ResetForTest()
	})
}

// useSite makes every launched browser serve docs and returns a launch counter.
func useSite(t *testing.T, docs map[string]string) (*mocks.Site, *atomic.Int32) {
	t.Helper()
	site := mocks.NewSite(docs)
	var launches atomic.Int32
	launchBrowser = func(context.Context, config.Interface, *zap.Logger) (interpreter.Browser, error) {
		launches.Add(1)
		return &fakeBrowser{Site: site}, nil
	}
	return site, &launches
}

// executeCommand runs a fresh command tree and returns everything it printed.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// zapcoreDiscard is a WriteSyncer that drops console output.
type zapcoreDiscard struct{}

func (zapcoreDiscard) Write(p []byte) (int, error) { return len(p), nil }
func (zapcoreDiscard) Sync() error                 { return nil }
