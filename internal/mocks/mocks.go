// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/browser"
	"github.com/xkilldash9x/scraperflow/internal/config"
	"github.com/xkilldash9x/scraperflow/internal/selector"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Network() config.NetworkConfig {
	args := m.Called()
	return args.Get(0).(config.NetworkConfig)
}

func (m *MockConfig) Captcha() config.CaptchaConfig {
	args := m.Called()
	return args.Get(0).(config.CaptchaConfig)
}

func (m *MockConfig) Execution() config.ExecutionConfig {
	args := m.Called()
	return args.Get(0).(config.ExecutionConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool)         { m.Called(b) }
func (m *MockConfig) SetBrowserHumanoidEnabled(b bool)  { m.Called(b) }
func (m *MockConfig) SetExecutionLeavePagesOpen(b bool) { m.Called(b) }
func (m *MockConfig) SetNetworkNavigationTimeout(d time.Duration) {
	m.Called(d)
}

// -- Page Mock --

// MockPage mocks browser.Page.
type MockPage struct {
	mock.Mock
}

var _ browser.Page = (*MockPage)(nil)

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
func (m *MockPage) Click(ctx context.Context, ref string, opts browser.ClickOptions) error {
	return m.Called(ctx, ref, opts).Error(0)
}
func (m *MockPage) Type(ctx context.Context, ref string, text string, opts browser.TypeOptions) error {
	return m.Called(ctx, ref, text, opts).Error(0)
}
func (m *MockPage) Scroll(ctx context.Context, toBottom bool) error {
	return m.Called(ctx, toBottom).Error(0)
}
func (m *MockPage) DeleteCookies(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
func (m *MockPage) Elements(ctx context.Context) (selector.ElementSource, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(selector.ElementSource), args.Error(1)
}
func (m *MockPage) AccessibilityCheckbox(ctx context.Context, label string) (schemas.Box, bool, error) {
	args := m.Called(ctx, label)
	return args.Get(0).(schemas.Box), args.Bool(1), args.Error(2)
}
func (m *MockPage) ClickAt(ctx context.Context, box schemas.Box) error {
	return m.Called(ctx, box).Error(0)
}
func (m *MockPage) WaitSettled(ctx context.Context, timeout time.Duration) error {
	return m.Called(ctx, timeout).Error(0)
}
func (m *MockPage) Evaluate(ctx context.Context, script string, out any) error {
	return m.Called(ctx, script, out).Error(0)
}
func (m *MockPage) PortalURL() string { return m.Called().String(0) }
func (m *MockPage) Reset(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
func (m *MockPage) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Opener Mock --

// MockOpener mocks browser.Opener.
type MockOpener struct {
	mock.Mock
}

var _ browser.Opener = (*MockOpener)(nil)

func (m *MockOpener) Open(ctx context.Context, index int) (browser.Page, error) {
	args := m.Called(ctx, index)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(browser.Page), args.Error(1)
}

// -- Recorder Mock --

// MockRecorder mocks browser.Recorder.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Push(record schemas.ExecutionInfo, flush bool) {
	m.Called(record, flush)
}
