package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrDeclined = errors.New("card declined")

type Call struct {
	Op      string
	Account string
	Ref     string
	Request *ChargeRequest
}

type FakeCharge struct {
	ChargeRequest
	ID       string
	Captured bool
}

// FakeGateway is an in-process gateway that accepts any token beginning with
// "tok_" and records every call. It backs tests and the memory driver.
type FakeGateway struct {
	mu        sync.Mutex
	seq       int
	calls     []Call
	customers map[string]bool
	charges   map[string]*FakeCharge

	// FailOn makes the named operation fail.
	FailOn map[string]error
	// Decline rejects these payment tokens at customer creation.
	Decline map[string]bool
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		customers: map[string]bool{},
		charges:   map[string]*FakeCharge{},
		FailOn:    map[string]error{},
		Decline:   map[string]bool{},
	}
}

func (f *FakeGateway) record(c Call) error {
	f.calls = append(f.calls, c)
	return f.FailOn[c.Op]
}

func (f *FakeGateway) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *FakeGateway) CreateCustomer(_ context.Context, source string, _ map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "CreateCustomer", Ref: source}); err != nil {
		return "", err
	}
	if !strings.HasPrefix(source, "tok_") || f.Decline[source] {
		return "", ErrDeclined
	}
	id := f.next("cus")
	f.customers[id] = true
	return id, nil
}

func (f *FakeGateway) CreateToken(_ context.Context, customerID, account string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "CreateToken", Account: account, Ref: customerID}); err != nil {
		return "", err
	}
	if !f.customers[customerID] {
		return "", fmt.Errorf("no such customer: %s", customerID)
	}
	return f.next("tok_shared"), nil
}

func (f *FakeGateway) CreateCharge(_ context.Context, req ChargeRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := req
	if err := f.record(Call{Op: "CreateCharge", Account: req.Account, Ref: req.Source, Request: &r}); err != nil {
		return "", err
	}
	if !strings.HasPrefix(req.Source, "tok_") || f.Decline[req.Source] {
		return "", ErrDeclined
	}
	id := f.next("ch")
	f.charges[id] = &FakeCharge{ChargeRequest: req, ID: id}
	return id, nil
}

func (f *FakeGateway) CaptureCharge(_ context.Context, chargeID, account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "CaptureCharge", Account: account, Ref: chargeID}); err != nil {
		return err
	}
	ch, ok := f.charges[chargeID]
	if !ok || ch.Account != account {
		return fmt.Errorf("no such charge: %s", chargeID)
	}
	ch.Captured = true
	return nil
}

func (f *FakeGateway) DeleteCustomer(_ context.Context, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "DeleteCustomer", Ref: customerID}); err != nil {
		return err
	}
	if !f.customers[customerID] {
		return fmt.Errorf("no such customer: %s", customerID)
	}
	delete(f.customers, customerID)
	return nil
}

func (f *FakeGateway) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Ops lists the operation names called, in order.
func (f *FakeGateway) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Op)
	}
	return out
}

func (f *FakeGateway) Charges() []FakeCharge {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCharge, 0, len(f.charges))
	for i := 1; i <= f.seq; i++ {
		if ch, ok := f.charges[fmt.Sprintf("ch_%d", i)]; ok {
			out = append(out, *ch)
		}
	}
	return out
}

// OpenCustomers counts shared customers not yet deleted.
func (f *FakeGateway) OpenCustomers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.customers)
}
