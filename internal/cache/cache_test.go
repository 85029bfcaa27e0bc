package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	fmerrors "github.com/rcourtman/fritzmesh/internal/errors"
	"github.com/rcourtman/fritzmesh/internal/fritzbox"
	"github.com/rcourtman/fritzmesh/internal/mock"
	"github.com/rcourtman/fritzmesh/internal/rewrite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouterCache(t *testing.T) (*Cache, *mock.Router) {
	t.Helper()
	router := mock.NewDemoRouter(mock.RouterConfig{})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	client, err := fritzbox.NewClient(fritzbox.ClientConfig{Host: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return New(client, rewrite.New(rewrite.MeshOverviewRules())), router
}

func TestResolveFetchesOnce(t *testing.T) {
	c, router := newRouterCache(t)
	ctx := context.Background()

	first, err := c.Resolve(ctx, "/css/box.css")
	require.NoError(t, err)
	assert.True(t, first.Rewritten)
	assert.Contains(t, string(first.Body), "--width-nav-left: 0;")

	second, err := c.Resolve(ctx, "/css/box.css")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, router.Hits("/css/box.css"), "second resolve must not reach the router")
	assert.Equal(t, 1, c.Len())
}

func TestResolveEntryAliases(t *testing.T) {
	c, router := newRouterCache(t)
	require.True(t, c.SetBootstrapSID("0123456789abcdef"))

	for _, alias := range []string{"/", "/#homeNet", "/start"} {
		assert.Equal(t, "/?sid=0123456789abcdef&lp=meshNet", c.Key(alias))
	}
	assert.Equal(t, "/css/box.css", c.Key("/css/box.css"))

	for _, alias := range []string{"/", "/start", "/#homeNet"} {
		entry, err := c.Resolve(context.Background(), alias)
		require.NoError(t, err)
		assert.Equal(t, "text/html", entry.MediaType())
	}
	assert.Equal(t, 1, router.Hits("/?sid=0123456789abcdef&lp=meshNet"))
	assert.Equal(t, 0, router.Hits("/start"))
}

func TestResolveLeavesBinaryAssetsAlone(t *testing.T) {
	c, _ := newRouterCache(t)

	entry, err := c.Resolve(context.Background(), "/css/images/mesh.svg")
	require.NoError(t, err)
	assert.False(t, entry.Rewritten)
	assert.False(t, entry.NeedsIngress())
	assert.Equal(t, `<svg xmlns="http://www.w3.org/2000/svg"/>`, string(entry.Body))
}

func TestResolveDoesNotCacheErrorStatus(t *testing.T) {
	c, router := newRouterCache(t)

	for i := 0; i < 2; i++ {
		entry, err := c.Resolve(context.Background(), "/missing.css")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, entry.Status)
	}
	assert.Equal(t, 2, router.Hits("/missing.css"))
	assert.Equal(t, 0, c.Len())
}

type countingFetcher struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context, requestURI string) (*fritzbox.Asset, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	return &fritzbox.Asset{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/css"}},
		Body:       []byte(`@import "/x.css";`),
	}, nil
}

type validatorFetcher struct{}

func (validatorFetcher) Fetch(ctx context.Context, requestURI string) (*fritzbox.Asset, error) {
	contentType := "text/css"
	if requestURI == "/a.png" {
		contentType = "image/png"
	}
	return &fritzbox.Asset{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Content-Type":  []string{contentType},
			"Etag":          []string{`"v1"`},
			"Last-Modified": []string{"Mon, 02 Jan 2026 15:04:05 GMT"},
		},
		Body: []byte(`@import "/x.css";`),
	}, nil
}

func TestResolveDropsEtagOfRewrittenBodies(t *testing.T) {
	c := New(validatorFetcher{}, rewrite.New(nil))

	css, err := c.Resolve(context.Background(), "/a.css")
	require.NoError(t, err)
	require.True(t, css.Rewritten)
	assert.NotContains(t, css.Header, "Etag")
	assert.Contains(t, css.Header, "Last-Modified")

	png, err := c.Resolve(context.Background(), "/a.png")
	require.NoError(t, err)
	assert.False(t, png.Rewritten)
	assert.Equal(t, []string{`"v1"`}, png.Header["Etag"])
}

func TestResolveCollapsesConcurrentMisses(t *testing.T) {
	fetcher := &countingFetcher{delay: 50 * time.Millisecond}
	c := New(fetcher, rewrite.New(nil))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := c.Resolve(context.Background(), "/a.css")
			assert.NoError(t, err)
			assert.Equal(t, `@import "__INGRESSPATH__x.css";`, string(entry.Body))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestResolveUpstreamFailure(t *testing.T) {
	fetcher := &countingFetcher{err: fmerrors.WrapUpstreamError("fetch_asset", "/a.css", errors.New("connection refused"))}
	c := New(fetcher, rewrite.New(nil))

	_, err := c.Resolve(context.Background(), "/a.css")
	require.Error(t, err)
	assert.True(t, fmerrors.IsUpstreamError(err))
	assert.Equal(t, 0, c.Len())
}

func TestSetBootstrapSIDIsSticky(t *testing.T) {
	c := New(&countingFetcher{}, rewrite.New(nil))

	assert.Equal(t, fritzbox.InvalidSID, c.BootstrapSID())
	assert.False(t, c.SetBootstrapSID(fritzbox.InvalidSID))
	assert.True(t, c.SetBootstrapSID("1111111111111111"))
	assert.False(t, c.SetBootstrapSID("2222222222222222"))
	assert.Equal(t, fritzbox.SID("1111111111111111"), c.BootstrapSID())
}

func TestRestoreRecoversBootstrapSID(t *testing.T) {
	c := New(&countingFetcher{}, rewrite.New(nil))

	c.Restore(map[string]*Entry{
		"/css/box.css":                         {Status: 200, ContentType: "text/css", Body: []byte("a")},
		"/?sid=00aa11bb22cc33dd&lp=meshNet": {Status: 200, ContentType: "text/html; charset=utf-8", Body: []byte("b")},
	})

	assert.Equal(t, fritzbox.SID("00aa11bb22cc33dd"), c.BootstrapSID())
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.SetBootstrapSID("2222222222222222"))

	entry, err := c.Resolve(context.Background(), "/start")
	require.NoError(t, err)
	assert.Equal(t, "b", string(entry.Body))
}

func TestBootstrapFromKeys(t *testing.T) {
	assert.Equal(t, fritzbox.InvalidSID, BootstrapFromKeys(nil))
	assert.Equal(t, fritzbox.InvalidSID, BootstrapFromKeys(map[string]*Entry{"/css/box.css": {}}))
	assert.Equal(t, fritzbox.InvalidSID, BootstrapFromKeys(map[string]*Entry{"/?sid=0000000000000000&lp=meshNet": {}}))
	assert.Equal(t, fritzbox.SID("0123456789abcdef"), BootstrapFromKeys(map[string]*Entry{"/?sid=0123456789abcdef&lp=meshNet": {}}))
}

func TestEntryMediaType(t *testing.T) {
	assert.Equal(t, "application/javascript", (&Entry{ContentType: "application/javascript;charset=utf-8"}).MediaType())
	assert.Equal(t, "text/css", (&Entry{ContentType: "text/css"}).MediaType())
	assert.Equal(t, "", (&Entry{}).MediaType())
}
