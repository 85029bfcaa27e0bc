package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	fmerrors "github.com/rcourtman/fritzmesh/internal/errors"
	"github.com/rcourtman/fritzmesh/internal/fritzbox"
	"github.com/rcourtman/fritzmesh/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultLang         = "de"
	meshPage            = "homeNet"

	stopTimeout = 5 * time.Second
)

// Refresher posts the data.lua refresh.
type Refresher interface {
	RefreshData(ctx context.Context, req fritzbox.DataRequest) ([]byte, error)
}

// SessionRenewer provides the SID to poll with and renews it after failures.
type SessionRenewer interface {
	Current() fritzbox.SID
	Renew(ctx context.Context) (fritzbox.SID, error)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval time.Duration
	Lang     string
}

// Poller periodically refreshes the telemetry document into a Cell.
type Poller struct {
	client    Refresher
	session   SessionRenewer
	bootstrap func() fritzbox.SID
	cell      *Cell
	interval  time.Duration
	lang      string
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewPoller creates a poller. bootstrap returns the SID written into every
// published document.
func NewPoller(client Refresher, session SessionRenewer, cell *Cell, bootstrap func() fritzbox.SID, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.Lang == "" {
		cfg.Lang = defaultLang
	}

	stopped := make(chan struct{})
	close(stopped)

	return &Poller{
		client:    client,
		session:   session,
		bootstrap: bootstrap,
		cell:      cell,
		interval:  cfg.Interval,
		lang:      cfg.Lang,
		now:       time.Now,
		stopped:   stopped,
	}
}

// Interval returns the polling interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Update performs one refresh. On success the Cell is replaced; on failure
// the Cell keeps its previous document, the session is renewed and the
// refresh error is returned.
func (p *Poller) Update(ctx context.Context) error {
	body, err := p.client.RefreshData(ctx, fritzbox.DataRequest{
		SID:  p.session.Current(),
		Lang: p.lang,
		Page: meshPage,
	})
	if err == nil {
		body, err = withSID(body, p.bootstrap())
	}

	now := p.now()
	if err != nil {
		metrics.RecordTelemetryPoll(false, now)
		log.Warn().
			Str("component", "telemetry_poller").
			Err(err).
			Msg("Telemetry refresh failed, renewing session")

		if _, renewErr := p.session.Renew(ctx); renewErr != nil {
			log.Warn().
				Str("component", "telemetry_poller").
				Err(renewErr).
				Msg("Session renewal after failed refresh did not succeed")
		}
		return err
	}

	p.cell.Store(body, now)
	metrics.RecordTelemetryPoll(true, now)
	log.Debug().
		Str("component", "telemetry_poller").
		Int("bytes", len(body)).
		Msg("Telemetry refreshed")
	return nil
}

// Start begins periodic polling. The first refresh happens one interval
// after Start; run Update beforehand for an immediate one.
func (p *Poller) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stopped = make(chan struct{})
	stopped := p.stopped
	p.mu.Unlock()

	go func() {
		defer close(stopped)
		defer func() {
			p.mu.Lock()
			if p.stopped == stopped {
				p.cancel = nil
			}
			p.mu.Unlock()
		}()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				_ = p.Update(runCtx)
			}
		}
	}()
}

// Stop cancels polling and waits up to five seconds for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	stopped := p.stopped
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-stopped:
	case <-timer.C:
		log.Warn().
			Str("component", "telemetry_poller").
			Str("action", "stop").
			Dur("timeout", stopTimeout).
			Msg("Telemetry poller stop timed out waiting for shutdown")
	}
}

// withSID validates a data.lua document and replaces its sid field.
// Numbers are kept verbatim.
func withSID(body []byte, sid fritzbox.SID) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmerrors.WrapProtocolError("refresh_data", "/data.lua", fmt.Errorf("decode telemetry: %w", err))
	}

	upstream, ok := doc["sid"].(string)
	if !ok {
		return nil, fmerrors.WrapProtocolError("refresh_data", "/data.lua", fmt.Errorf("telemetry has no sid"))
	}
	if upstream == fritzbox.InvalidSID.String() {
		return nil, fmerrors.WrapAuthError("refresh_data", "/data.lua", fmt.Errorf("router reports session as invalid"))
	}

	doc["sid"] = sid.String()

	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	return bytes.TrimRight(out.Bytes(), "\n"), nil
}
