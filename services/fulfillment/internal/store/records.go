package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
)

// Records groups the typed accessors the fulfillment service uses.
type Records struct {
	Store       *Store
	Orders      *Orders
	Projects    *Projects
	Licensors   *Licensors
	Lists       *ProjectLists
	Purchases   *Purchases
	Signatures  *SignatureLog
	Acceptances *Acceptances
	Gateway     *GatewayEvents
}

func NewRecords(s *Store, orderTTL time.Duration, now func() time.Time) *Records {
	if orderTTL <= 0 {
		orderTTL = domain.OrderTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Records{
		Store:       s,
		Orders:      &Orders{s: s, ttl: orderTTL, now: now},
		Projects:    &Projects{s: s},
		Licensors:   &Licensors{s: s},
		Lists:       &ProjectLists{s: s},
		Purchases:   &Purchases{s: s},
		Signatures:  &SignatureLog{s: s},
		Acceptances: &Acceptances{s: s},
		Gateway:     &GatewayEvents{s: s},
	}
}

func notFound(err error, what, id string) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidKey) {
		return &domain.NotFoundError{What: what, IDs: []string{id}}
	}
	return err
}

type Orders struct {
	s   *Store
	ttl time.Duration
	now func() time.Time
}

func orderKey(id string) Key { return Key{Kind: KindOrder, ID: id} }

// Get returns the order, treating an expired order exactly like an absent
// one. Expired records are removed on a best-effort basis.
func (o *Orders) Get(ctx context.Context, id string) (domain.Order, error) {
	var order domain.Order
	if err := o.s.ReadJSON(ctx, orderKey(id), &order); err != nil {
		return domain.Order{}, notFound(err, "order", id)
	}
	if order.Expired(o.now(), o.ttl) {
		_ = o.s.Delete(ctx, orderKey(id))
		return domain.Order{}, &domain.NotFoundError{What: "order", IDs: []string{id}}
	}
	return order, nil
}

func (o *Orders) Put(ctx context.Context, order domain.Order) error {
	return o.s.WriteJSON(ctx, orderKey(order.OrderID), order)
}

func (o *Orders) Delete(ctx context.Context, id string) error {
	return o.s.Delete(ctx, orderKey(id))
}

type Projects struct{ s *Store }

func projectKey(id string) Key { return Key{Kind: KindProject, ID: id} }

func (p *Projects) Get(ctx context.Context, id string) (domain.Project, error) {
	var project domain.Project
	if err := p.s.ReadJSON(ctx, projectKey(id), &project); err != nil {
		return domain.Project{}, notFound(err, "project", id)
	}
	return project, nil
}

func (p *Projects) Put(ctx context.Context, project domain.Project) error {
	return p.s.WriteJSON(ctx, projectKey(project.ProjectID), project)
}

func (p *Projects) Mutate(ctx context.Context, id string, fn func(*domain.Project) error) (domain.Project, error) {
	project, err := MutateJSON(ctx, p.s, projectKey(id), fn)
	if err != nil {
		return project, notFound(err, "project", id)
	}
	return project, nil
}

type Licensors struct{ s *Store }

func (l *Licensors) Get(ctx context.Context, id string) (domain.Licensor, error) {
	var licensor domain.Licensor
	if err := l.s.ReadJSON(ctx, Key{Kind: KindLicensor, ID: id}, &licensor); err != nil {
		return domain.Licensor{}, notFound(err, "licensor", id)
	}
	return licensor, nil
}

func (l *Licensors) Put(ctx context.Context, licensor domain.Licensor) error {
	return l.s.WriteJSON(ctx, Key{Kind: KindLicensor, ID: licensor.LicensorID}, licensor)
}

// ProjectLists is the per-licensor NDJSON ledger of offered projects.
type ProjectLists struct{ s *Store }

func listKey(licensorID string) Key { return Key{Kind: KindProjectsList, ID: licensorID} }

func (p *ProjectLists) Append(ctx context.Context, licensorID string, entry domain.ListEntry) error {
	return p.s.AppendRecord(ctx, listKey(licensorID), entry)
}

func (p *ProjectLists) Read(ctx context.Context, licensorID string) ([]domain.ListEntry, error) {
	lines, err := p.s.Lines(ctx, listKey(licensorID))
	if err != nil {
		return nil, err
	}
	return parseEntries(lines)
}

// Update applies fn to every entry and rewrites the list.
func (p *ProjectLists) Update(ctx context.Context, licensorID string, fn func(*domain.ListEntry)) error {
	return p.s.MutateText(ctx, listKey(licensorID), func(text string) (string, error) {
		entries, err := parseEntries(strings.Split(text, "\n"))
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for i := range entries {
			fn(&entries[i])
			line, err := json.Marshal(entries[i])
			if err != nil {
				return "", err
			}
			b.Write(line)
			b.WriteByte('\n')
		}
		return b.String(), nil
	})
}

func parseEntries(lines []string) ([]domain.ListEntry, error) {
	var out []domain.ListEntry
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e domain.ListEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("decode projects list: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

type Purchases struct{ s *Store }

func (p *Purchases) Put(ctx context.Context, id string, purchase domain.Purchase) error {
	return p.s.WriteJSON(ctx, Key{Kind: KindPurchase, ID: id}, purchase)
}

func (p *Purchases) Get(ctx context.Context, id string) (domain.Purchase, error) {
	var purchase domain.Purchase
	if err := p.s.ReadJSON(ctx, Key{Kind: KindPurchase, ID: id}, &purchase); err != nil {
		return domain.Purchase{}, notFound(err, "purchase", id)
	}
	return purchase, nil
}

// SignatureLog maps a public key to every signature produced with it. Lines
// are only ever appended.
type SignatureLog struct{ s *Store }

func (l *SignatureLog) Append(ctx context.Context, publicKey, signature string) error {
	return l.s.AppendLine(ctx, Key{Kind: KindSignatures, ID: publicKey}, signature)
}

func (l *SignatureLog) Contains(ctx context.Context, publicKey, signature string) (bool, error) {
	lines, err := l.s.Lines(ctx, Key{Kind: KindSignatures, ID: publicKey})
	if err != nil {
		return false, err
	}
	for _, line := range lines {
		if line == signature {
			return true, nil
		}
	}
	return false, nil
}

// Acceptances records buyer terms acceptance, one log per UTC day.
type Acceptances struct{ s *Store }

func (a *Acceptances) Append(ctx context.Context, acceptance domain.Acceptance) error {
	day := acceptance.Date.UTC().Format("2006-01-02")
	return a.s.AppendRecord(ctx, Key{Kind: KindAcceptances, ID: day}, acceptance)
}

func (a *Acceptances) Read(ctx context.Context, day time.Time) ([]domain.Acceptance, error) {
	lines, err := a.s.Lines(ctx, Key{Kind: KindAcceptances, ID: day.UTC().Format("2006-01-02")})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Acceptance, 0, len(lines))
	for _, line := range lines {
		var acc domain.Acceptance
		if err := json.Unmarshal([]byte(line), &acc); err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

// GatewayEvent is one verified payment gateway callback.
type GatewayEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Account     string    `json:"account,omitempty"`
	ObjectID    string    `json:"objectID,omitempty"`
	Created     time.Time `json:"created"`
	ReceivedAt  time.Time `json:"receivedAt"`
	PayloadHash string    `json:"payloadHash"`
}

type GatewayEvents struct{ s *Store }

const gatewayEventsID = "stripe"

func (g *GatewayEvents) Append(ctx context.Context, evt GatewayEvent) error {
	return g.s.AppendRecord(ctx, Key{Kind: KindGatewayEvents, ID: gatewayEventsID}, evt)
}

func (g *GatewayEvents) Read(ctx context.Context) ([]GatewayEvent, error) {
	lines, err := g.s.Lines(ctx, Key{Kind: KindGatewayEvents, ID: gatewayEventsID})
	if err != nil {
		return nil, err
	}
	out := make([]GatewayEvent, 0, len(lines))
	for _, line := range lines {
		var evt GatewayEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}
