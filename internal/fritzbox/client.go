package fritzbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	fmerrors "github.com/rcourtman/fritzmesh/internal/errors"
	"github.com/rcourtman/fritzmesh/internal/metrics"
	"github.com/rcourtman/fritzmesh/pkg/netutil"
	"github.com/rs/zerolog/log"
)

const (
	loginPath = "/login_sid.lua"
	dataPath  = "/data.lua"

	formContentType = "application/x-www-form-urlencoded"

	// maxDocumentBytes bounds login and data.lua responses.
	maxDocumentBytes = 16 << 20
	// maxAssetBytes bounds mirrored static assets.
	maxAssetBytes = 64 << 20
)

// Client talks HTTP to the router. It holds no session state.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Host       string
	Timeout    time.Duration
	HTTPClient *http.Client // optional, overrides Timeout
}

// SessionInfo is the parsed <SessionInfo> document returned by login_sid.lua.
type SessionInfo struct {
	SID       SID
	Challenge string
	BlockTime int
}

// Asset is a raw upstream response used for mirroring.
type Asset struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the declared Content-Type of the asset.
func (a *Asset) ContentType() string {
	return a.Header.Get("Content-Type")
}

// DataRequest holds the variable fields of a data.lua refresh.
type DataRequest struct {
	SID  SID
	Lang string
	Page string
}

// NewClient creates a router client. Hosts without a scheme default to http.
func NewClient(cfg ClientConfig) (*Client, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("router host is required")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	if _, err := url.Parse(host); err != nil {
		return nil, fmt.Errorf("invalid router host %q: %w", cfg.Host, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = netutil.CreateHTTPClient(cfg.Timeout)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(host, "/"),
		httpClient: httpClient,
	}, nil
}

// BaseURL returns the normalized router URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// LoginStatus asks the router whether sid is still accepted. The reply
// carries either the same SID or the invalid SID plus a fresh challenge.
func (c *Client) LoginStatus(ctx context.Context, sid SID) (info *SessionInfo, err error) {
	started := time.Now()
	defer func() { metrics.ObserveUpstream(metrics.EndpointLoginStatus, started, err) }()

	params := url.Values{}
	params.Set("version", "2")
	params.Set("sid", sid.String())

	body, err := c.doDocument(ctx, "login_status", http.MethodGet, loginPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return parseSessionInfo("login_status", body)
}

// Login answers a challenge and returns the resulting session document.
func (c *Client) Login(ctx context.Context, username, response string) (info *SessionInfo, err error) {
	started := time.Now()
	defer func() { metrics.ObserveUpstream(metrics.EndpointLogin, started, err) }()

	form := url.Values{}
	form.Set("username", username)
	form.Set("response", response)

	body, err := c.doDocument(ctx, "login", http.MethodPost, loginPath+"?version=2", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	return parseSessionInfo("login", body)
}

// RefreshData posts a data.lua refresh and returns the raw JSON body.
func (c *Client) RefreshData(ctx context.Context, req DataRequest) (body []byte, err error) {
	started := time.Now()
	defer func() { metrics.ObserveUpstream(metrics.EndpointData, started, err) }()

	form := url.Values{}
	form.Set("xhr", "1")
	form.Set("sid", req.SID.String())
	form.Set("lang", req.Lang)
	form.Set("page", req.Page)
	form.Set("xhrId", "refresh")
	form.Set("updating", "")
	form.Set("fwcheckstarted", "")
	form.Set("useajax", "1")
	form.Set("no_sidrenew", "")

	return c.doDocument(ctx, "refresh_data", http.MethodPost, dataPath, strings.NewReader(form.Encode()))
}

// Fetch GETs requestURI verbatim. Non-success statuses are returned in the
// Asset; only transport failures produce an error.
func (c *Client) Fetch(ctx context.Context, requestURI string) (asset *Asset, err error) {
	started := time.Now()
	defer func() { metrics.ObserveUpstream(metrics.EndpointAsset, started, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestURI, nil)
	if err != nil {
		return nil, fmerrors.WrapUpstreamError("fetch_asset", requestURI, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmerrors.WrapUpstreamError("fetch_asset", requestURI, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return nil, fmerrors.WrapUpstreamError("fetch_asset", requestURI, err)
	}

	log.Debug().
		Str("path", requestURI).
		Int("status", resp.StatusCode).
		Str("content_type", resp.Header.Get("Content-Type")).
		Int("bytes", len(body)).
		Msg("Fetched upstream asset")

	return &Asset{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

func (c *Client) doDocument(ctx context.Context, op, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmerrors.WrapUpstreamError(op, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", formContentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmerrors.WrapUpstreamError(op, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmerrors.WrapUpstreamError(op, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmerrors.WrapStatusError(op, path, resp.StatusCode, string(data))
	}

	return data, nil
}

func parseSessionInfo(op string, body []byte) (*SessionInfo, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmerrors.WrapProtocolError(op, loginPath, fmt.Errorf("parse session document: %w", err))
	}

	root := doc.Root()
	if root == nil {
		return nil, fmerrors.WrapProtocolError(op, loginPath, fmt.Errorf("empty session document"))
	}

	sidElement := root.FindElement("SID")
	if sidElement == nil {
		return nil, fmerrors.WrapProtocolError(op, loginPath, fmt.Errorf("session document has no SID element"))
	}
	sid, err := ParseSID(sidElement.Text())
	if err != nil {
		return nil, fmerrors.WrapProtocolError(op, loginPath, err)
	}

	info := &SessionInfo{SID: sid}
	if challenge := root.FindElement("Challenge"); challenge != nil {
		info.Challenge = strings.TrimSpace(challenge.Text())
	}
	if blockTime := root.FindElement("BlockTime"); blockTime != nil {
		if seconds, err := strconv.Atoi(strings.TrimSpace(blockTime.Text())); err == nil {
			info.BlockTime = seconds
		}
	}

	return info, nil
}
