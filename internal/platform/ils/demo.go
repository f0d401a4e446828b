package ils

import (
	"context"
	"strings"
	"sync"
)

// Demo is an in-memory ILS. Every registration succeeds unless a failure reason was queued
// for the patron. Payable amounts are only known for patrons given a balance.
type Demo struct {
	mu         sync.Mutex
	balances   map[string]int64
	failures   map[string][]string
	registered []*RegistrationRequest
}

func NewDemo() *Demo {
	return &Demo{balances: map[string]int64{}, failures: map[string][]string{}}
}

func demoKey(sourceILS, catUsername string) string {
	return strings.ToLower(sourceILS) + "|" + strings.ToLower(catUsername)
}

func (d *Demo) SetBalance(sourceILS, catUsername string, amount int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.balances[demoKey(sourceILS, catUsername)] = amount
}

// FailNext makes the next registration for the patron fail with reason.
func (d *Demo) FailNext(sourceILS, catUsername, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := demoKey(sourceILS, catUsername)
	d.failures[k] = append(d.failures[k], reason)
}

func (d *Demo) Registered() []*RegistrationRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*RegistrationRequest(nil), d.registered...)
}

func (d *Demo) RegisterPayment(_ context.Context, req *RegistrationRequest) (*RegistrationResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := demoKey(req.SourceILS, req.CatUsername)
	if queued := d.failures[k]; len(queued) > 0 {
		d.failures[k] = queued[1:]
		return &RegistrationResult{Success: false, Reason: queued[0]}, nil
	}
	d.registered = append(d.registered, req)
	if bal, ok := d.balances[k]; ok {
		d.balances[k] = max(bal-req.Amount, 0)
	}
	return &RegistrationResult{Success: true}, nil
}

func (d *Demo) PayableAmount(_ context.Context, sourceILS, catUsername string, _ []string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bal, ok := d.balances[demoKey(sourceILS, catUsername)]
	if !ok {
		return 0, ErrPatronNotFound
	}
	return bal, nil
}
