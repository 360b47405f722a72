package signal

import "testing"

func TestParseAction(t *testing.T) {
	cases := map[string]Action{
		"buy":    Buy,
		" SELL ": Sell,
		"hold":   Hold,
		"":       Hold,
		"moon":   Hold,
	}
	for in, want := range cases {
		if got := ParseAction(in); got != want {
			t.Fatalf("ParseAction(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestOpportunityActionable(t *testing.T) {
	if (Opportunity{Action: Hold}).Actionable() {
		t.Fatalf("hold must not be actionable")
	}
	if !(Opportunity{Action: Sell}).Actionable() {
		t.Fatalf("sell must be actionable")
	}
}
