package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"ca-indexer/internal/models"
	"ca-indexer/internal/pipeline"

	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// ErrStreamClosed is returned by Run when Jetstream closes the stream normally
var ErrStreamClosed = errors.New("jetstream closed the stream")

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// State is the lifecycle state of a Mirror
type State int32

const (
	StateBootstrapping State = iota
	StateConnected
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Submitter receives batches of accepted events
type Submitter interface {
	Submit(ctx context.Context, events []pipeline.Event)
}

// MirrorConfig configures the Jetstream subscription
type MirrorConfig struct {
	URL               string
	WantedCollections []string
	QueueSize         int
	MaxBatch          int
	ReconnectDelay    time.Duration
}

// Mirror keeps a live Jetstream subscription and feeds the events of known
// users to the pipeline. The known set is bootstrapped from platform users
// and grows when a platform profile is created.
type Mirror struct {
	db        *gorm.DB
	submitter Submitter
	logger    *slog.Logger
	cfg       MirrorConfig
	dialer    *websocket.Dialer

	state atomic.Int32

	mu    sync.RWMutex
	known map[string]bool
}

// NewMirror creates a new Jetstream mirror
func NewMirror(db *gorm.DB, submitter Submitter, logger *slog.Logger, cfg MirrorConfig) *Mirror {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	m := &Mirror{
		db:        db,
		submitter: submitter,
		logger:    logger,
		cfg:       cfg,
		dialer:    websocket.DefaultDialer,
		known:     make(map[string]bool),
	}
	m.state.Store(int32(StateStopped))
	return m
}

// State returns the current lifecycle state
func (m *Mirror) State() State {
	return State(m.state.Load())
}

func (m *Mirror) setState(s State) {
	if old := State(m.state.Swap(int32(s))); old != s {
		m.logger.Debug("mirror state changed", "from", old.String(), "to", s.String())
	}
}

// IsKnown reports whether events from did are mirrored
func (m *Mirror) IsKnown(did string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.known[did]
}

// Run bootstraps the known set and mirrors the stream until ctx is cancelled
// or the stream is closed. Buffered events are submitted before Run returns on
// a closed stream; on cancellation no new batch is started.
func (m *Mirror) Run(ctx context.Context) error {
	m.setState(StateBootstrapping)
	defer m.setState(StateStopped)

	if err := m.bootstrap(ctx); err != nil {
		return err
	}
	streamURL, err := m.streamURL()
	if err != nil {
		return err
	}

	events := make(chan pipeline.Event, m.cfg.QueueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.consume(ctx, events)
	}()

	err = m.read(ctx, streamURL, events)
	close(events)
	<-done
	return err
}

func (m *Mirror) bootstrap(ctx context.Context) error {
	var dids []string
	err := m.db.WithContext(ctx).Model(&models.User{}).Where("in_ca = ?", true).Pluck("did", &dids).Error
	if err != nil {
		return fmt.Errorf("load known users: %w", err)
	}
	// Users added from the stream stay known; their profile may still be queued.
	m.mu.Lock()
	for _, did := range dids {
		m.known[did] = true
	}
	total := len(m.known)
	m.mu.Unlock()

	m.logger.Info("bootstrapped known users", "stored", len(dids), "users", total)
	return nil
}

func (m *Mirror) streamURL() (string, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid jetstream url: %w", err)
	}
	q := u.Query()
	for _, c := range m.cfg.WantedCollections {
		q.Add("wantedCollections", c)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// read reconnects after stream errors, re-bootstrapping the known set each time
func (m *Mirror) read(ctx context.Context, streamURL string, events chan<- pipeline.Event) error {
	for {
		err := m.connectAndRead(ctx, streamURL, events)
		if ctx.Err() != nil {
			m.logger.Info("mirror stopped")
			return ctx.Err()
		}
		if errors.Is(err, ErrStreamClosed) {
			m.logger.Info("jetstream closed the stream")
			return err
		}

		m.setState(StateReconnecting)
		m.logger.Warn("jetstream connection error, reconnecting", "error", err, "delay", m.cfg.ReconnectDelay)
		select {
		case <-time.After(m.cfg.ReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := m.bootstrap(ctx); err != nil {
			m.logger.Error("failed to refresh known users", "error", err)
		}
	}
}

// connectAndRead handles a single connection to Jetstream
func (m *Mirror) connectAndRead(ctx context.Context, streamURL string, events chan<- pipeline.Event) error {
	conn, _, err := m.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to Jetstream: %w", err)
	}
	defer conn.Close()

	m.setState(StateConnected)
	m.logger.Info("connected to jetstream", "url", streamURL)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					m.logger.Warn("failed to send ping", "error", err)
					return
				}
			case <-ctx.Done():
				// Unblocks the pending read.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout))
				conn.Close()
				return
			case <-stop:
				return
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrStreamClosed
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		var event pipeline.Event
		if err := json.Unmarshal(message, &event); err != nil {
			m.logger.Warn("failed to unmarshal jetstream event", "error", err)
			continue
		}
		if !m.accept(&event) {
			continue
		}

		// A full queue blocks the reader until the consumer catches up.
		select {
		case events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// accept applies the known-user filter, growing the set on platform profile
// creation
func (m *Mirror) accept(e *pipeline.Event) bool {
	if !e.IsCommit() {
		return false
	}
	if e.IsPlatformProfile() && e.Commit.Operation == pipeline.OpCreate {
		m.mu.Lock()
		added := !m.known[e.DID]
		m.known[e.DID] = true
		m.mu.Unlock()
		if added {
			m.logger.Info("new platform user", "did", e.DID)
		}
		return true
	}
	return m.IsKnown(e.DID)
}

// consume drains the queue into batches of at most MaxBatch events
func (m *Mirror) consume(ctx context.Context, events <-chan pipeline.Event) {
	// Transactions already started finish even after cancellation.
	submitCtx := context.WithoutCancel(ctx)
	for {
		var first pipeline.Event
		var ok bool
		select {
		case <-ctx.Done():
			return
		case first, ok = <-events:
			if !ok {
				return
			}
		}

		batch := []pipeline.Event{first}
	drain:
		for len(batch) < m.cfg.MaxBatch {
			select {
			case e, ok := <-events:
				if !ok {
					break drain
				}
				batch = append(batch, e)
			default:
				break drain
			}
		}

		if ctx.Err() != nil {
			return
		}
		m.submitter.Submit(submitCtx, batch)
	}
}
