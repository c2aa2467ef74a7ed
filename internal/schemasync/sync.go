// Package schemasync keeps the schema registries of all instances
// convergent over the bus. Every local schema change is published as a
// full declaration; peers apply what they receive. A booting instance
// asks its peers to republish everything they hold, then waits out a
// short window before reporting ready. Convergence is eventual.
package schemasync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/faucetdb/schemad/internal/adapter"
	"github.com/faucetdb/schemad/internal/bus"
	"github.com/faucetdb/schemad/internal/metric"
)

// DefaultTopic is the bus topic schema declarations travel on.
const DefaultTopic = "database"

// DefaultWindow is how long an instance stays SYNCING after asking its
// peers for their schemas.
const DefaultWindow = 3 * time.Second

// State is the lifecycle state of a Synchronizer.
type State int32

const (
	StateBooting State = iota
	StateSyncing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "BOOTING"
	case StateSyncing:
		return "SYNCING"
	case StateReady:
		return "READY"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options configures a Synchronizer.
type Options struct {
	Topic  string
	Window time.Duration
	// InstanceID marks messages published by this instance. A random id
	// is generated when empty.
	InstanceID string
	Logger     *slog.Logger
	Metrics    *metric.Metrics
}

// Synchronizer connects one Adapter to the bus.
type Synchronizer struct {
	adapter *adapter.Adapter
	bus     bus.Bus
	topic   string
	window  time.Duration
	id      string
	logger  *slog.Logger
	metrics *metric.Metrics

	state     atomic.Int32
	ready     chan struct{}
	readyOnce sync.Once
	timer     *time.Timer
}

// New creates a Synchronizer in the BOOTING state.
func New(a *adapter.Adapter, b bus.Bus, opts Options) *Synchronizer {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Synchronizer{
		adapter: a,
		bus:     b,
		topic:   opts.Topic,
		window:  opts.Window,
		id:      opts.InstanceID,
		logger:  opts.Logger.With("component", "schemasync"),
		metrics: opts.Metrics,
		ready:   make(chan struct{}),
	}
	s.metrics.SetSyncState(int(StateBooting))
	return s
}

// InstanceID returns the id stamped on this instance's messages.
func (s *Synchronizer) InstanceID() string { return s.id }

// Status returns the current state.
func (s *Synchronizer) Status() State { return State(s.state.Load()) }

// Ready is closed once the synchronizer reaches READY.
func (s *Synchronizer) Ready() <-chan struct{} { return s.ready }

// Start subscribes to the topic, asks peers for their schemas, publishes
// the local ones and moves to READY after the sync window. The
// subscription lives until ctx is done.
func (s *Synchronizer) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateBooting), int32(StateSyncing)) {
		return fmt.Errorf("synchronizer already started (state %s)", s.Status())
	}
	s.metrics.SetSyncState(int(StateSyncing))

	if err := s.bus.Subscribe(ctx, s.topic, s.handle); err != nil {
		s.state.Store(int32(StateBooting))
		s.metrics.SetSyncState(int(StateBooting))
		return fmt.Errorf("subscribe to %s: %w", s.topic, err)
	}
	s.logger.Info("syncing schemas", "topic", s.topic, "instance", s.id, "window", s.window)

	if err := s.bus.Publish(ctx, s.topic, []byte(RequestMessage)); err != nil {
		s.logger.Warn("failed to request schemas from peers", "error", err)
	} else {
		s.metrics.SyncMessage("out", "request")
	}
	s.publishAll(ctx)

	s.timer = time.AfterFunc(s.window, s.markReady)
	return nil
}

// Stop cancels a pending READY transition.
func (s *Synchronizer) Stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Synchronizer) markReady() {
	s.readyOnce.Do(func() {
		s.state.Store(int32(StateReady))
		s.metrics.SetSyncState(int(StateReady))
		close(s.ready)
		s.logger.Info("schema sync ready", "schemas", len(s.adapter.GetSchemas()))
	})
}

// Broadcast publishes the current declaration of schema name.
func (s *Synchronizer) Broadcast(ctx context.Context, name string) error {
	sa, err := s.adapter.GetSchema(name)
	if err != nil {
		return err
	}
	return s.publishDeclaration(ctx, sa)
}

// BroadcastDeleted tells peers schema name is gone. Peers only drop it
// from their registries; the data decision was made here.
func (s *Synchronizer) BroadcastDeleted(ctx context.Context, name string) error {
	return s.publish(ctx, Message{Name: name, Origin: s.id, Deleted: true}, "delete")
}

func (s *Synchronizer) publishAll(ctx context.Context) {
	for _, sa := range s.adapter.GetSchemas() {
		if err := s.publishDeclaration(ctx, sa); err != nil {
			s.logger.Warn("failed to publish schema", "schema", sa.Name(), "error", err)
		}
	}
}

func (s *Synchronizer) publishDeclaration(ctx context.Context, sa *adapter.SchemaAdapter) error {
	msg, err := declarationMessage(sa.Declaration, s.id)
	if err != nil {
		return err
	}
	return s.publish(ctx, msg, "schema")
}

func (s *Synchronizer) publish(ctx context.Context, msg Message, kind string) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", kind, err)
	}
	if err := s.bus.Publish(ctx, s.topic, data); err != nil {
		return fmt.Errorf("publish %s message: %w", kind, err)
	}
	s.metrics.SyncMessage("out", kind)
	return nil
}

// handle applies one bus message. Nothing here returns an error: peer
// traffic has no caller to report to, so failures are logged and dropped.
func (s *Synchronizer) handle(ctx context.Context, data []byte) {
	if isRequest(data) {
		s.metrics.SyncMessage("in", "request")
		// The answer goes out on its own goroutine: this handler must
		// never wait on its own subscription.
		go s.publishAll(context.WithoutCancel(ctx))
		return
	}

	msg, err := decodeMessage(data)
	if err != nil {
		s.metrics.SyncMessage("in", "malformed")
		s.logger.Warn("dropping malformed schema message", "error", err, "size", len(data))
		return
	}
	if msg.Origin == s.id {
		return
	}

	if msg.Deleted {
		s.metrics.SyncMessage("in", "delete")
		if s.adapter.Unregister(ctx, msg.Name) {
			s.logger.Info("schema removed by peer", "schema", msg.Name, "peer", msg.Origin)
		}
		return
	}

	s.metrics.SyncMessage("in", "schema")
	d, err := msg.Declaration()
	if err != nil {
		s.logger.Warn("dropping schema message", "schema", msg.Name, "error", err)
		return
	}

	// Peers running schemad send their complete declaration, which is
	// reconciled with ours section by section. When ours holds something
	// the peer's copy lacks, it is published back so the peer catches up.
	// Anything else sends a bare schema that is folded in like a local
	// createSchemaFromAdapter.
	if msg.Origin != "" {
		sa, changed, err := s.adapter.ApplyDeclaration(ctx, d)
		if err != nil {
			s.logger.Error("failed to apply schema from peer", "schema", msg.Name, "peer", msg.Origin, "error", err)
			return
		}
		if changed {
			s.logger.Debug("schema updated by peer", "schema", msg.Name, "peer", msg.Origin)
		}
		if !sa.Declaration.Equal(d) {
			if err := s.publishDeclaration(ctx, sa); err != nil {
				s.logger.Warn("failed to republish reconciled schema", "schema", msg.Name, "error", err)
			}
		}
		return
	}
	if _, err := s.adapter.CreateSchemaFromAdapter(ctx, d.Schema); err != nil {
		s.logger.Error("failed to create/update schema", "schema", msg.Name, "error", err)
	}
}
