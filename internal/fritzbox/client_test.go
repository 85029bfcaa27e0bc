package fritzbox

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	fmerrors "github.com/rcourtman/fritzmesh/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientNormalizesHost(t *testing.T) {
	client, err := NewClient(ClientConfig{Host: "fritz.box"})
	require.NoError(t, err)
	assert.Equal(t, "http://fritz.box", client.BaseURL())

	client, err = NewClient(ClientConfig{Host: "https://192.168.178.1/"})
	require.NoError(t, err)
	assert.Equal(t, "https://192.168.178.1", client.BaseURL())

	_, err = NewClient(ClientConfig{Host: "  "})
	require.Error(t, err)
}

func TestRefreshDataSendsForm(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data.lua" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Fatalf("unexpected content type %q", ct)
		}
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"sid":"0123456789abcdef"}`)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{Host: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	body, err := client.RefreshData(context.Background(), DataRequest{SID: "0123456789abcdef", Lang: "de", Page: "homeNet"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sid":"0123456789abcdef"}`, string(body))

	assert.Equal(t, "1", form.Get("xhr"))
	assert.Equal(t, "0123456789abcdef", form.Get("sid"))
	assert.Equal(t, "de", form.Get("lang"))
	assert.Equal(t, "homeNet", form.Get("page"))
	assert.Equal(t, "refresh", form.Get("xhrId"))
	assert.Equal(t, "1", form.Get("useajax"))
	for _, key := range []string{"updating", "fwcheckstarted", "no_sidrenew"} {
		values, ok := form[key]
		assert.True(t, ok, "form field %s should be present", key)
		assert.Equal(t, []string{""}, values)
	}
}

func TestRefreshDataStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{Host: srv.URL})
	require.NoError(t, err)

	_, err = client.RefreshData(context.Background(), DataRequest{SID: InvalidSID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fmerrors.ErrUpstreamUnavailable))
	assert.Equal(t, http.StatusForbidden, fmerrors.StatusCode(err))
}

func TestFetchReturnsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RequestURI() == "/css/box.css?v=2" {
			w.Header().Set("Content-Type", "text/css")
			_, _ = io.WriteString(w, "body{}")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{Host: srv.URL})
	require.NoError(t, err)

	asset, err := client.Fetch(context.Background(), "/css/box.css?v=2")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, asset.StatusCode)
	assert.Equal(t, "text/css", asset.ContentType())
	assert.Equal(t, "body{}", string(asset.Body))

	asset, err = client.Fetch(context.Background(), "/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, asset.StatusCode)
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(ClientConfig{Host: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), "/")
	require.Error(t, err)
	assert.True(t, fmerrors.IsUpstreamError(err))
}

func TestParseSessionInfoBlockTime(t *testing.T) {
	info, err := parseSessionInfo("login", []byte(`<?xml version="1.0" encoding="utf-8"?>
<SessionInfo><SID>0000000000000000</SID><Challenge>2$10$aa$20$bb</Challenge><BlockTime>32</BlockTime></SessionInfo>`))
	require.NoError(t, err)
	assert.Equal(t, InvalidSID, info.SID)
	assert.Equal(t, "2$10$aa$20$bb", info.Challenge)
	assert.Equal(t, 32, info.BlockTime)
}
