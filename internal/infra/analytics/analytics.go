// Package analytics provides a sampled, fire-and-forget event sink.
package analytics

import (
	"bytes"
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// EventType identifies an analytics event.
type EventType string

// Event types.
const (
	SearchPerformed EventType = "search_performed"
	TrackPreview    EventType = "track_preview"
	BuyLinkClick    EventType = "buy_link_click"
	CrateExport     EventType = "crate_export"
)

// Data carries the event attributes. Unset fields are omitted.
type Data struct {
	QueryLength  *int   `json:"q_len,omitempty"`
	ResultsCount *int   `json:"results_count,omitempty"`
	TrackID      string `json:"track_id,omitempty"`
	Source       string `json:"source,omitempty"`
	ArtistID     string `json:"artist_id,omitempty"`
	Rows         *int   `json:"rows,omitempty"`
}

// Event is the JSON body posted to the endpoint.
type Event struct {
	Type EventType `json:"type"`
	Data Data      `json:"data"`
}

// Tracker records analytics events.
type Tracker interface {
	Track(e Event)
}

// Nop discards every event.
type Nop struct{}

// Track does nothing.
func (Nop) Track(Event) {}

// Config holds sink configuration.
type Config struct {
	Endpoint   string
	SampleRate float64
	Timeout    time.Duration
}

// Client posts sampled events to an HTTP endpoint.
// Failures are logged and never returned to callers.
type Client struct {
	endpoint   string
	sampleRate float64
	httpClient *http.Client

	rngMu sync.Mutex
	rng   *rand.Rand

	wg sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithRand sets the random source used for sampling.
func WithRand(r *rand.Rand) Option {
	return func(c *Client) {
		c.rng = r
	}
}

// New creates an analytics client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("analytics endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)

	c := &Client{
		endpoint:   cfg.Endpoint,
		sampleRate: cfg.SampleRate,
		httpClient: &http.Client{Timeout: timeout},
		rng:        rand.New(rand.NewSource(seed)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Track samples e and, if selected, posts it in the background.
func (c *Client) Track(e Event) {
	if !c.sample() {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.post(context.Background(), e); err != nil {
			zlog.Debug().Msgf("analytics: %s dropped: %v", e.Type, err)
		}
	}()
}

// Wait blocks until in-flight posts finish.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) sample() bool {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.rng.Float64() < c.sampleRate
}

func (c *Client) post(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send event")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Newf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Int returns a pointer to v, for the optional numeric fields of Data.
func Int(v int) *int {
	return &v
}
