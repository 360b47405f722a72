package swarm

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"swarmbot-go/internal/exception"
)

// Policy selects how an aggregate size is split.
type Policy int

const (
	Equal Policy = iota
	BalanceWeighted
)

// String is the config name of the policy.
func (p Policy) String() string {
	if p == BalanceWeighted {
		return "balance_weighted"
	}
	return "equal"
}

// ParsePolicy accepts "equal" (the default for empty input) or "balance_weighted".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "equal":
		return Equal, nil
	case "balance_weighted", "weighted":
		return BalanceWeighted, nil
	default:
		return Equal, fmt.Errorf("unknown swarm policy %q", s)
	}
}

// Slice is one wallet's share of an allocation.
type Slice struct {
	Wallet string          `json:"wallet"`
	Size   decimal.Decimal `json:"size"`
}

// DefaultPrecision is the number of decimal places a slice is truncated to.
const DefaultPrecision int32 = 8

func validate(total decimal.Decimal, wallets []string) ([]string, error) {
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: total %s", exception.ErrInvalidSize, total)
	}
	seen := make(map[string]struct{}, len(wallets))
	uniq := make([]string, 0, len(wallets))
	for _, w := range wallets {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		uniq = append(uniq, w)
	}
	if len(uniq) == 0 {
		return nil, exception.ErrInsufficientWallets
	}
	return uniq, nil
}

// Distribute splits total equally across wallets. Slices are truncated to precision and the
// remainder goes to the first wallet, so the sizes sum to total exactly. Duplicate wallets and
// zero slices are dropped.
func Distribute(total decimal.Decimal, wallets []string, precision int32) ([]Slice, error) {
	uniq, err := validate(total, wallets)
	if err != nil {
		return nil, err
	}
	if precision <= 0 {
		precision = DefaultPrecision
	}
	share := total.Div(decimal.NewFromInt(int64(len(uniq)))).Truncate(precision)
	shares := make([]decimal.Decimal, len(uniq))
	for i := range shares {
		shares[i] = share
	}
	return assemble(total, uniq, shares), nil
}

// DistributeWeighted splits total proportionally to weights, which align with wallets.
// Without any positive weight it falls back to an equal split.
func DistributeWeighted(total decimal.Decimal, wallets []string, weights []decimal.Decimal, precision int32) ([]Slice, error) {
	if len(weights) != len(wallets) {
		return nil, fmt.Errorf("%w: %d weights for %d wallets", exception.ErrWalletAllocation, len(weights), len(wallets))
	}
	weightOf := make(map[string]decimal.Decimal, len(wallets))
	for i, w := range wallets {
		if _, ok := weightOf[strings.TrimSpace(w)]; !ok {
			weightOf[strings.TrimSpace(w)] = weights[i]
		}
	}
	uniq, err := validate(total, wallets)
	if err != nil {
		return nil, err
	}
	if precision <= 0 {
		precision = DefaultPrecision
	}
	sum := decimal.Zero
	for _, w := range uniq {
		if wt := weightOf[w]; wt.IsPositive() {
			sum = sum.Add(wt)
		}
	}
	if !sum.IsPositive() {
		return Distribute(total, uniq, precision)
	}
	shares := make([]decimal.Decimal, len(uniq))
	for i, w := range uniq {
		wt := weightOf[w]
		if !wt.IsPositive() {
			continue
		}
		shares[i] = total.Mul(wt).Div(sum).Truncate(precision)
	}
	return assemble(total, uniq, shares), nil
}

func assemble(total decimal.Decimal, wallets []string, shares []decimal.Decimal) []Slice {
	allotted := decimal.Zero
	for _, s := range shares {
		allotted = allotted.Add(s)
	}
	shares[0] = shares[0].Add(total.Sub(allotted))

	out := make([]Slice, 0, len(wallets))
	for i, w := range wallets {
		if !shares[i].IsPositive() {
			continue
		}
		out = append(out, Slice{Wallet: w, Size: shares[i]})
	}
	return out
}
