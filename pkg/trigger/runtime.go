// Package trigger invokes handlers when documents matching a path pattern are
// created, updated or deleted.
//
// Writes made through Runtime.Store() are observed: the runtime snapshots every
// watched node the write touches, classifies the change and publishes one event
// per (trigger, node) on an in-process watermill bus. A router delivers each
// event to its trigger's handler, retrying failures with backoff; an event that
// still fails is logged and dropped. Handlers write through the raw store, so
// derived writes never fire triggers of their own.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"anoa.com/reviewfeed/pkg/permalink"
	"anoa.com/reviewfeed/pkg/store"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sirupsen/logrus"
)

const (
	topicPrefix     = "trigger."
	triggerMetadata = "trigger"
)

var (
	ErrUnknownTrigger = errors.New("trigger: unknown trigger")
	ErrPathMismatch   = errors.New("trigger: path does not match the trigger pattern")
	ErrKindMismatch   = errors.New("trigger: change type not accepted by the trigger")
	ErrDuplicateName  = errors.New("trigger: name already registered")
)

type Config struct {
	MaxRetries    int
	RetryInterval time.Duration
	OutputBuffer  int64
}

type Option func(*Runtime)

// WithLedger enables redelivery dedupe keyed by event id and trigger name.
func WithLedger(l Ledger) Option {
	return func(r *Runtime) { r.ledger = l }
}

func WithLogger(log *logrus.Logger) Option {
	return func(r *Runtime) { r.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

type registration struct {
	name    string
	pattern Pattern
	kind    Kind
	handler HandlerFunc
}

type Runtime struct {
	raw      store.Store
	observed store.Store
	bus      *gochannel.GoChannel
	router   *message.Router
	ledger   Ledger
	log      *logrus.Logger
	now      func() time.Time

	mu       sync.RWMutex
	triggers []*registration
	byName   map[string]*registration
}

func New(raw store.Store, cfg Config, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		raw:    raw,
		log:    logrus.StandardLogger(),
		now:    time.Now,
		byName: map[string]*registration{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.observed = &observedStore{Store: raw, rt: r}

	adapter := NewLogrusAdapter(r.log)
	r.bus = gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: cfg.OutputBuffer}, adapter)

	router, err := message.NewRouter(message.RouterConfig{}, adapter)
	if err != nil {
		return nil, fmt.Errorf("create trigger router: %w", err)
	}

	retry := middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.RetryInterval,
		MaxInterval:     cfg.RetryInterval * 10,
		Multiplier:      2,
		Logger:          adapter,
	}
	router.AddMiddleware(r.dropOnFailure, retry.Middleware, middleware.Recoverer)
	r.router = router
	return r, nil
}

// Store returns the observed store handle. Writes through it fire triggers.
func (r *Runtime) Store() store.Store { return r.observed }

// Raw returns the underlying store. Writes through it never fire triggers.
func (r *Runtime) Raw() store.Store { return r.raw }

// Register adds a trigger. All triggers must be registered before Run.
func (r *Runtime) Register(name, pattern string, kind Kind, h HandlerFunc) error {
	p, err := ParsePattern(pattern)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	reg := &registration{name: name, pattern: p, kind: kind, handler: h}
	r.triggers = append(r.triggers, reg)
	r.byName[name] = reg

	r.router.AddNoPublisherHandler(name, topicPrefix+name, r.bus, r.consume(reg))
	return nil
}

// Run blocks until ctx is cancelled or the router fails.
func (r *Runtime) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once handlers are subscribed and events can be delivered.
func (r *Runtime) Running() chan struct{} {
	return r.router.Running()
}

func (r *Runtime) Close() error {
	if err := r.router.Close(); err != nil {
		return err
	}
	return r.bus.Close()
}

// Deliver publishes an externally produced event to the named trigger. Missing
// params, change type, id and timestamp are filled in from the event itself.
func (r *Runtime) Deliver(_ context.Context, e Event) (Event, error) {
	r.mu.RLock()
	reg, ok := r.byName[e.Trigger]
	r.mu.RUnlock()
	if !ok {
		return e, fmt.Errorf("%w: %s", ErrUnknownTrigger, e.Trigger)
	}

	params, ok := reg.pattern.Match(e.Path)
	if !ok {
		return e, fmt.Errorf("%w: %s does not match %s", ErrPathMismatch, e.Path, reg.pattern)
	}
	e.Path = permalink.Format(e.Path)
	e.Params = params
	if e.Type == "" {
		e.Type = classify(e.Before, e.After)
	}
	if !reg.kind.accepts(e.Type) {
		return e, fmt.Errorf("%w: %s on %s", ErrKindMismatch, e.Type, e.Trigger)
	}
	if e.ID == "" {
		e.ID = newEventID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = r.now().UnixMilli()
	}
	return e, r.publish(e)
}

func newEventID() string {
	return watermill.NewUUID()
}

func (r *Runtime) publish(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := message.NewMessage(e.ID, payload)
	msg.Metadata.Set(triggerMetadata, e.Trigger)

	if err := r.bus.Publish(topicPrefix+e.Trigger, msg); err != nil {
		return err
	}
	eventsPublished.WithLabelValues(e.Trigger, string(e.Type)).Inc()
	return nil
}

func (r *Runtime) consume(reg *registration) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var e Event
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			r.log.WithError(err).WithField("trigger", reg.name).Error("discarding undecodable event")
			return nil
		}
		ctx := msg.Context()
		log := r.log.WithFields(logrus.Fields{"trigger": reg.name, "event_id": e.ID, "path": e.Path})

		if r.ledger != nil {
			done, err := r.ledger.Processed(ctx, e.ID, reg.name)
			if err != nil {
				return fmt.Errorf("check ledger: %w", err)
			}
			if done {
				eventsSkipped.WithLabelValues(reg.name).Inc()
				log.Debug("event already processed")
				return nil
			}
		}

		start := time.Now()
		err := reg.handler(ctx, e)
		handlerDuration.WithLabelValues(reg.name).Observe(time.Since(start).Seconds())
		if err != nil {
			log.WithError(err).Warn("trigger handler attempt failed")
			return err
		}

		if r.ledger != nil {
			if err := r.ledger.MarkProcessed(ctx, e.ID, reg.name); err != nil {
				log.WithError(err).Error("failed to record processed event")
			}
		}
		log.Debug("event processed")
		return nil
	}
}

// dropOnFailure acks an event whose retries are exhausted so the bus moves on.
func (r *Runtime) dropOnFailure(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		produced, err := h(msg)
		if err == nil {
			return produced, nil
		}
		name := msg.Metadata.Get(triggerMetadata)
		handlerFailures.WithLabelValues(name).Inc()
		r.log.WithFields(logrus.Fields{
			"trigger":  name,
			"event_id": msg.UUID,
		}).WithError(err).Error("trigger handler failed, dropping event")
		return nil, nil
	}
}
