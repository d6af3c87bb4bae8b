// internal/network/proxy.go
package network

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/internal/config"
)

// Forwarder is a local proxy that relays browser traffic to an authenticated
// upstream proxy. Browsers cannot take proxy credentials on the command line,
// so pages are pointed at the forwarder and it adds them.
type Forwarder struct {
	proxy    *goproxy.ProxyHttpServer
	upstream *url.URL
	logger   *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	served   chan error
}

// NewForwarder creates a forwarder chained to the upstream of cfg.
func NewForwarder(cfg config.ProxyConfig, ignoreTLSErrors bool, logger *zap.Logger) (*Forwarder, error) {
	upstream, err := UpstreamURL(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("proxy_forwarder")

	proxy := goproxy.NewProxyHttpServer()
	proxy.Logger = zap.NewStdLog(log.Named("goproxy"))
	proxy.Tr = NewUpstreamTransport(upstream, ignoreTLSErrors)

	// CONNECT tunnels are opened through the upstream with the same credentials.
	bare := *upstream
	bare.User = nil
	dial := proxy.NewConnectDialToProxyWithHandler(bare.String(), func(req *http.Request) {
		if auth := basicAuth(upstream.User); auth != "" {
			req.Header.Set("Proxy-Authorization", auth)
		}
	})
	if dial == nil {
		return nil, fmt.Errorf("upstream proxy %q cannot tunnel CONNECT requests", bare.String())
	}
	proxy.ConnectDial = dial

	f := &Forwarder{proxy: proxy, upstream: upstream, logger: log}
	proxy.OnRequest().DoFunc(f.handleRequest)
	proxy.OnResponse().DoFunc(f.handleResponse)
	return f, nil
}

func basicAuth(user *url.Userinfo) string {
	if user == nil {
		return ""
	}
	password, _ := user.Password()
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user.Username()+":"+password))
}

func (f *Forwarder) handleRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	f.logger.Debug("Forwarding request.", zap.String("method", r.Method), zap.String("url", requestURL(ctx)))
	return r, nil
}

// handleResponse turns upstream failures into a 502 the page can show.
func (f *Forwarder) handleResponse(r *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if r != nil {
		return r
	}
	msg := "unknown error"
	if ctx.Error != nil {
		msg = ctx.Error.Error()
	}
	f.logger.Warn("Upstream proxy request failed.", zap.String("url", requestURL(ctx)), zap.String("error", msg))

	if ctx.Req == nil {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			ProtoMajor: 1,
			ProtoMinor: 1,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewBufferString("Proxy error: upstream connection failed: " + msg)),
		}
	}
	return goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, http.StatusBadGateway, "Proxy error: upstream connection failed: "+msg)
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr asks for port 0.
func (f *Forwarder) Start(addr string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.server != nil {
		return "", errors.New("proxy forwarder already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	server := &http.Server{
		Handler:     f.proxy,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		ErrorLog:    zap.NewStdLog(f.logger.Named("http_server")),
	}
	f.server, f.listener = server, ln
	f.served = make(chan error, 1)

	go func(served chan<- error) {
		err := server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		served <- err
	}(f.served)

	f.logger.Info("Proxy forwarder started.", zap.String("address", ln.Addr().String()), zap.String("upstream", f.upstream.Host))
	return ln.Addr().String(), nil
}

// Addr is the listening address, or "" before Start.
func (f *Forwarder) Addr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == nil {
		return ""
	}
	return f.listener.Addr().String()
}

// Close shuts the forwarder down. It is safe to call more than once.
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	server, served := f.server, f.served
	f.server, f.listener, f.served = nil, nil, nil
	f.mu.Unlock()
	if server == nil {
		return nil
	}

	shutdownErr := server.Shutdown(ctx)
	serveErr := <-served
	if err := errors.Join(shutdownErr, serveErr); err != nil {
		f.logger.Error("Proxy forwarder stopped with an error.", zap.Error(err))
		return fmt.Errorf("proxy forwarder shutdown failed: %w", err)
	}
	f.logger.Info("Proxy forwarder stopped.")
	return nil
}

func requestURL(ctx *goproxy.ProxyCtx) string {
	if ctx != nil && ctx.Req != nil && ctx.Req.URL != nil {
		return ctx.Req.URL.String()
	}
	return "unknown"
}
