// internal/interpreter/helpers_test.go
package interpreter_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/browser"
	"github.com/xkilldash9x/scraperflow/internal/config"
	"github.com/xkilldash9x/scraperflow/internal/databridge"
	"github.com/xkilldash9x/scraperflow/internal/execinfo"
	"github.com/xkilldash9x/scraperflow/internal/interpreter"
	"github.com/xkilldash9x/scraperflow/internal/mocks"
)

// fakeBrowser serves the pages of a mocks.Site and counts Close calls.
type fakeBrowser struct {
	*mocks.Site
	closed atomic.Int32
}

func (b *fakeBrowser) Close(context.Context) error {
	b.closed.Add(1)
	return nil
}

type harness struct {
	cfg      *config.Config
	site     *mocks.Site
	browser  *fakeBrowser
	launches atomic.Int32
	logger   *zap.Logger
}

func newHarness(t *testing.T, docs map[string]string) *harness {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.CaptchaCfg.MinJitter = 0
	cfg.CaptchaCfg.MaxJitter = 0
	site := mocks.NewSite(docs)
	return &harness{
		cfg:     cfg,
		site:    site,
		browser: &fakeBrowser{Site: site},
		logger:  zaptest.NewLogger(t),
	}
}

func (h *harness) interpreter(opts ...interpreter.Option) *interpreter.Interpreter {
	launch := func(ctx context.Context) (interpreter.Browser, error) {
		h.launches.Add(1)
		return h.browser, nil
	}
	return interpreter.New(h.cfg, launch, h.logger, opts...)
}

func (h *harness) run(ctx context.Context, instructions schemas.Instructions, bridge databridge.Bridge, opts interpreter.Options) *execinfo.Log {
	return h.interpreter().Execute(ctx, instructions, bridge, opts)
}

func memoryBridge(t *testing.T, rows []databridge.Row, it schemas.Iterator) *databridge.MemoryBridge {
	t.Helper()
	decls := []schemas.DataSourceDeclaration{{SourceTableName: "accounts", SourceAlias: "acc"}}
	b, err := databridge.NewMemoryBridge(map[string][]databridge.Row{"accounts": rows}, decls, it, zap.NewNop())
	require.NoError(t, err)
	return b
}

// summarize renders records as short strings that are easy to compare.
func summarize(records []schemas.ExecutionInfo) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		switch d := r.Data.(type) {
		case schemas.PageOpenedInfo:
			out = append(out, fmt.Sprintf("opened %d", d.PageIndex))
		case schemas.InstructionInfo:
			s := fmt.Sprintf("L%d %s", d.Level, d.Summary)
			if d.IsMet != nil {
				s += fmt.Sprintf(" =%t", *d.IsMet)
			}
			out = append(out, s)
		case schemas.ExternalDataOperationInfo:
			target := d.Key
			if target == "" {
				target = d.SourceName
			}
			out = append(out, fmt.Sprintf("data %s %s", d.Operation, target))
		case schemas.SuccessInfo:
			out = append(out, "success")
		case schemas.ErrorInfo:
			out = append(out, "error: "+d.Message)
		default:
			out = append(out, string(r.Type))
		}
	}
	return out
}

func count(items []string, want string) int {
	n := 0
	for _, s := range items {
		if s == want {
			n++
		}
	}
	return n
}

// terminalMessage returns the message of the log's Error record, or "".
func terminalMessage(t *testing.T, log *execinfo.Log) string {
	t.Helper()
	rec, ok := log.Terminal()
	require.True(t, ok, "log has no terminal record")
	if info, ok := rec.Data.(schemas.ErrorInfo); ok {
		return info.Message
	}
	return ""
}

// requireSingleTerminal checks that exactly one terminal record exists and that it is last.
func requireSingleTerminal(t *testing.T, log *execinfo.Log) {
	t.Helper()
	records := log.Get()
	require.NotEmpty(t, records)
	n := 0
	for _, r := range records {
		if r.IsTerminal() {
			n++
		}
	}
	require.Equal(t, 1, n, "terminal records")
	require.True(t, records[len(records)-1].IsTerminal(), "terminal record is last")
}

// -- instruction builders --

func css(q string) schemas.Selectors { return schemas.Selectors{schemas.Query{Query: q}} }

func navigate(url string) schemas.Instruction {
	return schemas.PageActionInstruction{Action: schemas.Navigate{URL: url}}
}

func navigateOn(page int, url string) schemas.Instruction {
	return schemas.PageActionInstruction{Action: schemas.Navigate{URL: url, PageIndex: page}}
}

func click(q string) schemas.Instruction {
	return schemas.PageActionInstruction{Action: schemas.Click{Selectors: css(q)}}
}

func typeInto(q string, v schemas.ScraperValue, enter bool) schemas.Instruction {
	return schemas.PageActionInstruction{Action: schemas.Type{Selectors: css(q), Value: v, PressEnter: enter}}
}

func save(key string, v schemas.ScraperValue) schemas.Instruction {
	return schemas.SaveData{DataKey: key, Value: v}
}

func textOf(q string) schemas.ScraperValue { return schemas.ElementTextContent{Selectors: css(q)} }

func ifVisible(q string, then, els schemas.Instructions) schemas.Instruction {
	return schemas.ConditionInstruction{If: schemas.IsVisible{Selectors: css(q)}, Then: then, Else: els}
}

func marker(name string) schemas.Instruction { return schemas.Marker{Name: name} }
func jump(name string) schemas.Instruction   { return schemas.Jump{MarkerName: name} }

// dispatchFunc adapts a function to interpreter.SystemActionDispatcher.
type dispatchFunc func(ctx context.Context, a schemas.SystemAction) error

func (f dispatchFunc) Dispatch(ctx context.Context, a schemas.SystemAction) error { return f(ctx, a) }

// scriptedAgent fails as many runs as failures before succeeding.
type scriptedAgent struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (a *scriptedAgent) Run(ctx context.Context, page browser.Page, task schemas.RunAutonomousAgent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.calls <= a.failures {
		return fmt.Errorf("agent lost track of %q", task.Task)
	}
	return nil
}
