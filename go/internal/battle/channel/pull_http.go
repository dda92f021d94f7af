package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle"
	"github.com/mrowan14/codeclash/go/internal/battle/events"
)

// DefaultPollInterval is the authoritative snapshot cadence.
const DefaultPollInterval = time.Second

// SnapshotClient fetches authoritative session snapshots from the
// match service.
type SnapshotClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewSnapshotClient creates a client for the given match service base
// URL, e.g. "http://localhost:8080".
func NewSnapshotClient(baseURL string) *SnapshotClient {
	return &SnapshotClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// SetHeader sets a header included on every request, e.g. auth.
func (c *SnapshotClient) SetHeader(key, value string) {
	c.headers[key] = value
}

// Fetch retrieves the current authoritative snapshot for a session.
func (c *SnapshotClient) Fetch(ctx context.Context, sessionID string) (*events.RosterSnapshotPayload, error) {
	url := fmt.Sprintf("%s/api/battles/%s/snapshot", c.baseURL, sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", battle.ErrSnapshotFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", battle.ErrSnapshotFetchFailed, resp.StatusCode, string(body))
	}

	var snap events.RosterSnapshotPayload
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", battle.ErrSnapshotFetchFailed, err)
	}
	return &snap, nil
}

// Poller drives the pull channel: a periodic authoritative fetch plus
// on-demand fetches requested by the engine. Fetch failures are
// retried on the next cycle; the previous snapshot stays in effect.
type Poller struct {
	client    *SnapshotClient
	sink      EventSink
	sessionID string
	interval  time.Duration
	clock     clockwork.Clock

	periodic atomic.Bool
	fetchCh  chan struct{}

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// NewPoller creates a poller for one session.
func NewPoller(client *SnapshotClient, sink EventSink, sessionID string, interval time.Duration, clock clockwork.Clock) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &Poller{
		client:    client,
		sink:      sink,
		sessionID: sessionID,
		interval:  interval,
		clock:     clock,
		fetchCh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	p.periodic.Store(true)
	return p
}

// Start launches the poll loop. It fetches once immediately so the
// engine starts from authoritative state.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	log.Info().
		Str("sessionId", p.sessionID).
		Dur("interval", p.interval).
		Msg("Snapshot poller started")

	p.fetch(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("sessionId", p.sessionID).Msg("Snapshot poller stopped")
			return
		case <-ticker.Chan():
			if p.periodic.Load() {
				p.fetch(ctx)
			}
		case <-p.fetchCh:
			p.fetch(ctx)
		}
	}
}

func (p *Poller) fetch(ctx context.Context) {
	snap, err := p.client.Fetch(ctx, p.sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).
			Str("sessionId", p.sessionID).
			Msg("Snapshot fetch failed, retrying next cycle")
		return
	}

	ev, err := events.New(p.sessionID, events.KindRosterSnapshot, events.SourcePull, snap)
	if err != nil {
		log.Error().Err(err).Str("sessionId", p.sessionID).Msg("Failed to build snapshot event")
		return
	}
	p.sink.Publish(ev)
}

// FetchNow requests an out-of-band fetch. Multiple pending requests
// coalesce into one.
func (p *Poller) FetchNow() {
	select {
	case p.fetchCh <- struct{}{}:
	default:
	}
}

// StopPeriodic cancels the periodic cadence. On-demand FetchNow calls
// still work; the engine uses them to confirm optimistic commits.
func (p *Poller) StopPeriodic() {
	p.periodic.Store(false)
}

// Stop shuts the poller down entirely.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
}
