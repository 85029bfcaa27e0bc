package mock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

// DefaultChallenge keeps iteration counts low so logins stay fast.
const DefaultChallenge = "2$10$5a1711$20$bb0e44"

const invalidSID = "0000000000000000"

type RouterConfig struct {
	Username  string
	Password  string
	Challenge string
	Mesh      MockConfig
}

// Asset is a canned upstream response.
type Asset struct {
	Status      int
	ContentType string
	Body        string
}

// CallCounts reports how often each router endpoint was hit.
type CallCounts struct {
	LoginStatus int
	Login       int
	Data        int
}

// Router is an in-process stand-in for a FRITZ!Box web interface. It
// implements the login_sid.lua handshake, the data.lua refresh and serves
// canned static assets keyed by request URI.
type Router struct {
	mu           sync.Mutex
	cfg          RouterConfig
	sessions     map[string]bool
	nextSID      uint64
	assets       map[string]Asset
	hits         map[string]int
	calls        CallCounts
	mesh         []MeshNode
	blockTime    int
	dataOverride *Asset
	lastDataForm url.Values
}

// NewRouter creates a router with no assets.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Challenge == "" {
		cfg.Challenge = DefaultChallenge
	}
	return &Router{
		cfg:      cfg,
		sessions: make(map[string]bool),
		nextSID:  0x5e551d0000000000,
		assets:   make(map[string]Asset),
		hits:     make(map[string]int),
		mesh:     GenerateMeshData(cfg.Mesh),
	}
}

// NewDemoRouter creates a router preloaded with a small mesh overview UI.
func NewDemoRouter(cfg RouterConfig) *Router {
	r := NewRouter(cfg)
	for uri, asset := range demoAssets {
		r.assets[uri] = asset
	}
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch {
	case req.URL.Path == "/login_sid.lua" && req.Method == http.MethodGet:
		r.handleLoginStatus(w, req)
	case req.URL.Path == "/login_sid.lua" && req.Method == http.MethodPost:
		r.handleLogin(w, req)
	case req.URL.Path == "/data.lua" && req.Method == http.MethodPost:
		r.handleData(w, req)
	case req.Method == http.MethodGet:
		r.handleAsset(w, req)
	default:
		http.NotFound(w, req)
	}
}

func (r *Router) handleLoginStatus(w http.ResponseWriter, req *http.Request) {
	sid := req.URL.Query().Get("sid")

	r.mu.Lock()
	r.calls.LoginStatus++
	valid := r.sessions[sid]
	blockTime := r.blockTime
	r.mu.Unlock()

	if valid {
		writeSessionInfo(w, sid, "", 0)
		return
	}
	writeSessionInfo(w, invalidSID, r.cfg.Challenge, blockTime)
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.Login++

	expected := challengeResponse(r.cfg.Challenge, r.cfg.Password)
	if req.PostForm.Get("username") != r.cfg.Username || req.PostForm.Get("response") != expected {
		log.Debug().Str("username", req.PostForm.Get("username")).Msg("Mock router rejected login")
		writeSessionInfo(w, invalidSID, r.cfg.Challenge, r.blockTime)
		return
	}

	r.nextSID++
	sid := fmt.Sprintf("%016x", r.nextSID)
	r.sessions[sid] = true
	writeSessionInfo(w, sid, "", 0)
}

func (r *Router) handleData(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.Data++
	r.lastDataForm = req.PostForm

	if r.dataOverride != nil {
		writeAsset(w, *r.dataOverride)
		return
	}

	sid := req.PostForm.Get("sid")
	if !r.sessions[sid] {
		// The real box answers stale sessions with its login page.
		writeAsset(w, Asset{Status: http.StatusOK, ContentType: "text/html; charset=utf-8", Body: loginPage})
		return
	}

	UpdateMetrics(r.mesh, r.cfg.Mesh)
	doc := map[string]any{
		"pid":  req.PostForm.Get("page"),
		"sid":  sid,
		"lang": req.PostForm.Get("lang"),
		"data": map[string]any{
			"mesh_nodes": r.mesh,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		log.Error().Err(err).Msg("Mock router failed to encode data.lua response")
	}
}

func (r *Router) handleAsset(w http.ResponseWriter, req *http.Request) {
	uri := req.URL.RequestURI()

	r.mu.Lock()
	r.hits[uri]++
	asset, ok := r.assets[uri]
	if !ok && req.URL.Path == "/" && req.URL.Query().Get("lp") == "meshNet" {
		asset, ok = r.assets["/"]
	}
	r.mu.Unlock()

	if !ok {
		http.NotFound(w, req)
		return
	}
	writeAsset(w, asset)
}

// SetAsset registers a 200 response for requestURI.
func (r *Router) SetAsset(requestURI, contentType, body string) {
	r.SetAssetStatus(requestURI, http.StatusOK, contentType, body)
}

// SetAssetStatus registers a response with an explicit status for requestURI.
func (r *Router) SetAssetStatus(requestURI string, status int, contentType, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[requestURI] = Asset{Status: status, ContentType: contentType, Body: body}
}

// Hits returns how often requestURI was fetched.
func (r *Router) Hits(requestURI string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[requestURI]
}

// Calls returns the endpoint call counters.
func (r *Router) Calls() CallCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// LastDataForm returns the form of the most recent data.lua request.
func (r *Router) LastDataForm() url.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastDataForm
}

// Sessions returns the SIDs the router currently accepts, sorted.
func (r *Router) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	sids := make([]string, 0, len(r.sessions))
	for sid := range r.sessions {
		sids = append(sids, sid)
	}
	sort.Strings(sids)
	return sids
}

// ExpireSessions forgets every issued SID, as a router reboot would.
func (r *Router) ExpireSessions() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]bool)
}

// SetPassword changes the password the router accepts.
func (r *Router) SetPassword(password string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Password = password
}

// SetBlockTime sets the BlockTime reported alongside login challenges.
func (r *Router) SetBlockTime(seconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockTime = seconds
}

// SetDataResponse forces every data.lua request to return the given response.
// Pass status 0 to restore normal behaviour.
func (r *Router) SetDataResponse(status int, contentType, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status == 0 {
		r.dataOverride = nil
		return
	}
	r.dataOverride = &Asset{Status: status, ContentType: contentType, Body: body}
}

// ChallengeResponse returns the login response the router expects for password.
func (r *Router) ChallengeResponse(password string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return challengeResponse(r.cfg.Challenge, password)
}

func challengeResponse(challenge, password string) string {
	parts := strings.Split(challenge, "$")
	if len(parts) != 5 {
		return ""
	}
	var iter1, iter2 int
	fmt.Sscanf(parts[1], "%d", &iter1)
	fmt.Sscanf(parts[3], "%d", &iter2)
	salt1, _ := hex.DecodeString(parts[2])
	salt2, _ := hex.DecodeString(parts[4])

	hash1 := pbkdf2.Key([]byte(password), salt1, iter1, sha256.Size, sha256.New)
	hash2 := pbkdf2.Key(hash1, salt2, iter2, sha256.Size, sha256.New)
	return parts[4] + "$" + hex.EncodeToString(hash2)
}

func writeSessionInfo(w http.ResponseWriter, sid, challenge string, blockTime int) {
	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><SessionInfo><SID>%s</SID><Challenge>%s</Challenge><BlockTime>%d</BlockTime><Rights></Rights></SessionInfo>`,
		sid, challenge, blockTime)
}

func writeAsset(w http.ResponseWriter, asset Asset) {
	if asset.ContentType != "" {
		w.Header().Set("Content-Type", asset.ContentType)
	}
	status := asset.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	fmt.Fprint(w, asset.Body)
}
