// Package workflow drives order fulfillment: placing orders, turning an
// accepted payment into signed, delivered documents, and the licensor-side
// catalog operations that feed it.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/masukomi/licensezero.com/pkg/lock"
	"github.com/masukomi/licensezero.com/pkg/signature"
	"github.com/masukomi/licensezero.com/pkg/taskgraph"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/events"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/mailer"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/payment"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/store"
)

// isoMillis matches the timestamp format embedded in signed manifests.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Dependencies are the collaborators an Engine is built from.
type Dependencies struct {
	Records  *store.Records
	Payments *payment.Coordinator
	Mailer   mailer.Mailer
	Locks    *lock.Manager
	Events   events.Publisher
	Logger   *slog.Logger

	// AgentKey counter-signs relicense agreements on behalf of the platform.
	AgentKey        signature.KeyPair
	Now             func() time.Time
	NewID           func() string
	PurchaseBaseURL string
	BcryptCost      int
}

type Engine struct {
	records  *store.Records
	payments *payment.Coordinator
	mailer   mailer.Mailer
	locks    *lock.Manager
	events   events.Publisher
	logger   *slog.Logger

	agentKey        signature.KeyPair
	now             func() time.Time
	newID           func() string
	purchaseBaseURL string
	bcryptCost      int
}

func New(deps Dependencies) (*Engine, error) {
	if deps.Records == nil || deps.Payments == nil || deps.Mailer == nil {
		return nil, errors.New("workflow: records, payments and mailer are required")
	}
	e := &Engine{
		records:         deps.Records,
		payments:        deps.Payments,
		mailer:          deps.Mailer,
		locks:           deps.Locks,
		events:          deps.Events,
		logger:          deps.Logger,
		agentKey:        deps.AgentKey,
		now:             deps.Now,
		newID:           deps.NewID,
		purchaseBaseURL: deps.PurchaseBaseURL,
		bcryptCost:      deps.BcryptCost,
	}
	if e.locks == nil {
		e.locks = lock.NewManager()
	}
	if e.events == nil {
		e.events = events.Noop{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.purchaseBaseURL == "" {
		e.purchaseBaseURL = "https://licensezero.com"
	}
	if e.bcryptCost == 0 {
		e.bcryptCost = bcrypt.DefaultCost
	}
	return e, nil
}

func (e *Engine) timestamp() (time.Time, string) {
	now := e.now().UTC()
	return now, now.Format(isoMillis)
}

// step wraps fn so a successful step is logged with its name.
func step(log *slog.Logger, name string, fn func(ctx context.Context) error, attrs ...any) taskgraph.Step {
	return func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		log.Info("step complete", append([]any{"step", name}, attrs...)...)
		return nil
	}
}

// publish sends a domain event and only logs a failure.
func (e *Engine) publish(ctx context.Context, log *slog.Logger, evtType, key string, data any) {
	err := e.events.Publish(ctx, events.Event{
		Type:       evtType,
		Key:        key,
		OccurredAt: e.now().UTC(),
		Data:       data,
	})
	if err != nil {
		log.Warn("publish event failed", "event", evtType, "error", err)
	}
}
