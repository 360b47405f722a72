// Package lists governs the five asset and wallet classification lists and their soft lifecycle.
package lists

import (
	"fmt"
	"strings"
	"time"

	"swarmbot-go/internal/exception"
)

// ListType tags which list an entry belongs to.
type ListType int

const (
	Greenlist ListType = iota + 1
	Blacklist
	Redlist
	Whitelist
	Pumplist
)

// All enumerates every list type in a stable order.
var All = []ListType{Greenlist, Blacklist, Redlist, Whitelist, Pumplist}

// String is the lower-case list name used in storage and the control API.
func (t ListType) String() string {
	switch t {
	case Greenlist:
		return "greenlist"
	case Blacklist:
		return "blacklist"
	case Redlist:
		return "redlist"
	case Whitelist:
		return "whitelist"
	case Pumplist:
		return "pumplist"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Valid reports whether t is one of the five governed lists.
func (t ListType) Valid() bool { return t >= Greenlist && t <= Pumplist }

// ParseListType maps a list name onto its tag. Unknown names are rejected, never ignored.
func ParseListType(name string) (ListType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "greenlist", "green":
		return Greenlist, nil
	case "blacklist", "black":
		return Blacklist, nil
	case "redlist", "red":
		return Redlist, nil
	case "whitelist", "white":
		return Whitelist, nil
	case "pumplist", "pump":
		return Pumplist, nil
	default:
		return 0, fmt.Errorf("%w: %q", exception.ErrUnknownListType, name)
	}
}

// Entry is one row of list history. Deactivation flips Active; rows are never deleted.
type Entry struct {
	ID            int64         `json:"id"`
	Identifier    string        `json:"identifier"`
	List          ListType      `json:"-"`
	ListName      string        `json:"list_type"`
	Active        bool          `json:"active"`
	Reason        string        `json:"reason"`
	AddedBy       string        `json:"added_by"`
	FocusDuration time.Duration `json:"focus_duration,omitempty"`
	TargetType    string        `json:"target_type,omitempty"`
	MinLiquidity  float64       `json:"min_liquidity,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Metadata carries the mutable descriptive fields of an entry.
type Metadata struct {
	Reason        string
	AddedBy       string
	FocusDuration time.Duration
	TargetType    string
	MinLiquidity  float64
}

// apply overlays the non-zero fields of md onto e.
func (e *Entry) apply(md Metadata) {
	if md.Reason != "" {
		e.Reason = md.Reason
	}
	if md.AddedBy != "" {
		e.AddedBy = md.AddedBy
	}
	if md.FocusDuration > 0 {
		e.FocusDuration = md.FocusDuration
	}
	if md.TargetType != "" {
		e.TargetType = md.TargetType
	}
	if md.MinLiquidity > 0 {
		e.MinLiquidity = md.MinLiquidity
	}
}

// FocusExpired reports whether a focus-bounded entry has outlived its window.
func (e Entry) FocusExpired(now time.Time) bool {
	if e.FocusDuration <= 0 {
		return false
	}
	return now.After(e.UpdatedAt.Add(e.FocusDuration))
}
