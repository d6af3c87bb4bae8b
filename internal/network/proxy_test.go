// internal/network/proxy_test.go
package network

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scraperflow/internal/config"
)

// fakeUpstream acts as an HTTP proxy that only serves authenticated requests.
func fakeUpstream(t *testing.T, user, password string) *httptest.Server {
	t.Helper()
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Proxy-Authorization") != want {
			w.WriteHeader(http.StatusProxyAuthRequired)
			return
		}
		fmt.Fprintf(w, "upstream saw %s", r.URL.String())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func startForwarder(t *testing.T, cfg config.ProxyConfig) (*Forwarder, *http.Client) {
	t.Helper()
	f, err := NewForwarder(cfg, false, zaptest.NewLogger(t))
	require.NoError(t, err)
	addr, err := f.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, f.Close(ctx))
	})

	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{Proxy: http.ProxyURL(&url.URL{Scheme: "http", Host: addr})},
	}
	return f, client
}

func TestForwarder_AddsUpstreamCredentials(t *testing.T) {
	upstream := fakeUpstream(t, "scraper", "s3cret")
	_, client := startForwarder(t, config.ProxyConfig{
		Enabled:  true,
		Upstream: upstream.Listener.Addr().String(),
		Username: "scraper",
		Password: "s3cret",
	})

	resp, err := client.Get("http://shop.scraperflow.test/item?id=7")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "upstream saw http://shop.scraperflow.test/item?id=7", string(body))
}

func TestForwarder_WrongCredentialsAreRejectedUpstream(t *testing.T) {
	upstream := fakeUpstream(t, "scraper", "s3cret")
	_, client := startForwarder(t, config.ProxyConfig{Enabled: true, Upstream: upstream.URL, Username: "scraper", Password: "nope"})

	resp, err := client.Get("http://shop.scraperflow.test/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusProxyAuthRequired, resp.StatusCode)
}

func TestForwarder_UpstreamDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, client := startForwarder(t, config.ProxyConfig{Enabled: true, Upstream: deadAddr})
	resp, err := client.Get("http://shop.scraperflow.test/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "upstream connection failed")
}

func TestForwarder_Lifecycle(t *testing.T) {
	f, err := NewForwarder(config.ProxyConfig{Enabled: true, Upstream: "proxy.example:3128"}, false, nil)
	require.NoError(t, err)
	assert.Empty(t, f.Addr())

	addr, err := f.Start("127.0.0.1:0")
	require.NoError(t, err)
	assert.Equal(t, addr, f.Addr())

	_, err = f.Start("127.0.0.1:0")
	assert.ErrorContains(t, err, "already started")

	require.NoError(t, f.Close(context.Background()))
	require.NoError(t, f.Close(context.Background()))
	assert.Empty(t, f.Addr())
}

func TestUpstreamURL(t *testing.T) {
	tests := map[string]struct {
		cfg     config.ProxyConfig
		want    string
		wantErr string
	}{
		"host and port":    {cfg: config.ProxyConfig{Upstream: "proxy.example:3128"}, want: "http://proxy.example:3128"},
		"ip and port":      {cfg: config.ProxyConfig{Upstream: "10.0.0.2:8080"}, want: "http://10.0.0.2:8080"},
		"https scheme":     {cfg: config.ProxyConfig{Upstream: "https://proxy.example"}, want: "https://proxy.example"},
		"with credentials": {cfg: config.ProxyConfig{Upstream: "proxy.example:3128", Username: "u", Password: "p"}, want: "http://u:p@proxy.example:3128"},
		"empty":            {cfg: config.ProxyConfig{}, wantErr: "no upstream proxy configured"},
		"socks":            {cfg: config.ProxyConfig{Upstream: "socks5://proxy.example:1080"}, wantErr: "unsupported upstream proxy scheme"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			u, err := UpstreamURL(tt.cfg)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}
