// Package swarm owns the wallet pool and splits aggregate orders across it.
package swarm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"swarmbot-go/internal/exception"
)

// Wallet is one address in the swarm with its per-asset balances.
type Wallet struct {
	Address string

	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

// NewWallet returns a handle for address holding a copy of balances.
func NewWallet(address string, balances map[string]decimal.Decimal) *Wallet {
	w := &Wallet{Address: address, balances: make(map[string]decimal.Decimal, len(balances))}
	for asset, amt := range balances {
		w.balances[strings.ToUpper(asset)] = amt
	}
	return w
}

// Balance returns the held amount of asset, zero when none.
func (w *Wallet) Balance(asset string) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[strings.ToUpper(asset)]
}

// Balances returns a copy of every non-zero balance.
func (w *Wallet) Balances() map[string]decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(w.balances))
	for k, v := range w.balances {
		if !v.IsZero() {
			out[k] = v
		}
	}
	return out
}

// Credit adds amt of asset.
func (w *Wallet) Credit(asset string, amt decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := strings.ToUpper(asset)
	w.balances[key] = w.balances[key].Add(amt)
}

// Debit removes amt of asset, refusing to go negative.
func (w *Wallet) Debit(asset string, amt decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := strings.ToUpper(asset)
	cur := w.balances[key]
	if cur.LessThan(amt) {
		return fmt.Errorf("wallet %s: insufficient %s balance %s < %s", w.Address, key, cur, amt)
	}
	w.balances[key] = cur.Sub(amt)
	return nil
}

// ApplyFill moves baseDelta and quoteDelta atomically. Neither balance may go negative.
func (w *Wallet) ApplyFill(base string, baseDelta decimal.Decimal, quote string, quoteDelta decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	bk, qk := strings.ToUpper(base), strings.ToUpper(quote)
	nb := w.balances[bk].Add(baseDelta)
	nq := w.balances[qk].Add(quoteDelta)
	if nb.IsNegative() || nq.IsNegative() {
		return fmt.Errorf("wallet %s: fill would overdraw (%s %s, %s %s)", w.Address, bk, nb, qk, nq)
	}
	w.balances[bk] = nb
	w.balances[qk] = nq
	return nil
}

// Swarm is the registry of wallets available to strategies.
type Swarm struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
}

// New builds a swarm from wallets.
func New(wallets ...*Wallet) *Swarm {
	s := &Swarm{wallets: make(map[string]*Wallet, len(wallets))}
	for _, w := range wallets {
		s.wallets[w.Address] = w
	}
	return s
}

// Add registers w, replacing any wallet with the same address.
func (s *Swarm) Add(w *Wallet) {
	s.mu.Lock()
	s.wallets[w.Address] = w
	s.mu.Unlock()
}

// Get returns the wallet at address or ErrUnknownWallet.
func (s *Swarm) Get(address string) (*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", exception.ErrUnknownWallet, address)
	}
	return w, nil
}

// Addresses lists every registered wallet, sorted.
func (s *Swarm) Addresses() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.wallets))
	for addr := range s.wallets {
		out = append(out, addr)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Resolve maps addresses to handles in first-seen order, skipping repeats. An empty list
// resolves to the whole swarm.
func (s *Swarm) Resolve(addresses []string) ([]*Wallet, error) {
	if len(addresses) == 0 {
		addresses = s.Addresses()
	}
	seen := make(map[string]struct{}, len(addresses))
	out := make([]*Wallet, 0, len(addresses))
	for _, addr := range addresses {
		w, err := s.Get(addr)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[w.Address]; dup {
			continue
		}
		seen[w.Address] = struct{}{}
		out = append(out, w)
	}
	return out, nil
}

// TotalBalance sums asset across addresses, or across the whole swarm when none are given.
func (s *Swarm) TotalBalance(asset string, addresses []string) (decimal.Decimal, error) {
	wallets, err := s.Resolve(addresses)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, w := range wallets {
		total = total.Add(w.Balance(asset))
	}
	return total, nil
}
