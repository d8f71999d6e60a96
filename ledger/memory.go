package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"oracleflow/units"
)

// Memory is an in-process ledger used by dev mode and tests.
type Memory struct {
	mu       sync.Mutex
	balances map[string]map[string]*uint256.Int
	applied  map[string]bool
	failures map[string]int
	log      []Transfer
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]map[string]*uint256.Int),
		applied:  make(map[string]bool),
		failures: make(map[string]int),
	}
}

// Mint credits account out of thin air.
func (m *Memory) Mint(currency, account string, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(currency, account, amount)
}

func (m *Memory) Balance(currency, account string) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[currency][account]; ok {
		return b.Clone()
	}
	return units.Zero()
}

// FailTransfersTo makes the next n transfers to account fail. n < 0 fails until cleared with 0.
func (m *Memory) FailTransfersTo(account string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n == 0 {
		delete(m.failures, account)
		return
	}
	m.failures[account] = n
}

// Transfers returns the applied transfers in order.
func (m *Memory) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.log))
	copy(out, m.log)
	return out
}

func (m *Memory) Transfer(_ context.Context, t Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.IdempotencyKey != "" && m.applied[t.IdempotencyKey] {
		return nil
	}
	if n, ok := m.failures[t.To]; ok {
		if n > 0 {
			if n == 1 {
				delete(m.failures, t.To)
			} else {
				m.failures[t.To] = n - 1
			}
		}
		return fmt.Errorf("%w: receiver %s unavailable", ErrRejected, t.To)
	}
	if err := m.move(t.Currency, t.From, t.To, t.Amount); err != nil {
		return err
	}
	if t.IdempotencyKey != "" {
		m.applied[t.IdempotencyKey] = true
	}
	m.log = append(m.log, t)
	return nil
}

// TransferCall debits from, credits to, hands the deposit to recv and returns
// the refund recv asked for. A receiver error refunds everything.
func (m *Memory) TransferCall(ctx context.Context, currency, from, to string, amount *uint256.Int, msg string, recv Receiver) (*uint256.Int, error) {
	m.mu.Lock()
	err := m.move(currency, from, to, amount)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	refund, recvErr := recv.OnTransfer(ctx, Deposit{Currency: currency, Sender: from, Receiver: to, Amount: amount.Clone(), Msg: msg})
	if recvErr != nil || refund == nil {
		refund = amount.Clone()
	}
	if refund.Gt(amount) {
		refund = amount.Clone()
	}

	if !refund.IsZero() {
		m.mu.Lock()
		err = m.move(currency, to, from, refund)
		m.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("ledger: refund: %w", err)
		}
	}
	return refund, recvErr
}

func (m *Memory) move(currency, from, to string, amount *uint256.Int) error {
	bal := m.balances[currency][from]
	if bal == nil || bal.Lt(amount) {
		return fmt.Errorf("%w: %s has less than %s %s", ErrInsufficientFunds, from, amount.Dec(), currency)
	}
	bal.Sub(bal, amount)
	m.credit(currency, to, amount)
	return nil
}

func (m *Memory) credit(currency, account string, amount *uint256.Int) {
	accts, ok := m.balances[currency]
	if !ok {
		accts = make(map[string]*uint256.Int)
		m.balances[currency] = accts
	}
	bal, ok := accts[account]
	if !ok {
		bal = units.Zero()
		accts[account] = bal
	}
	bal.Add(bal, amount)
}
