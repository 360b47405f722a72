package strategy

import (
	"testing"
	"time"

	"swarmbot-go/internal/signal"
)

func obs(symbol string, price, volume, change float64, ts time.Time) signal.Features {
	return signal.Features{Symbol: symbol, Ts: ts, Values: map[string]float64{
		signal.FeaturePrice:       price,
		signal.FeatureVolume:      volume,
		signal.FeaturePriceChange: change,
	}}
}

func run(s Strategy, fs []signal.Features) *Signal {
	var out *Signal
	for _, f := range fs {
		out = s.Evaluate(f)
	}
	return out
}

func TestOBIMomentumLong(t *testing.T) {
	now := time.Now()
	sig := run(NewOBIMomentum(0.1, 30), []signal.Features{
		obs("WIFUSDC", 100, 1, 0, now.Add(-2*time.Second)),
		obs("WIFUSDC", 101, 1, 0.01, now.Add(-time.Second)),
		obs("WIFUSDC", 102, 1, 0.01, now),
	})
	if sig == nil || sig.Score <= 0 {
		t.Fatalf("expected long signal, got %+v", sig)
	}
}

func TestOBIMomentumShort(t *testing.T) {
	now := time.Now()
	sig := run(NewOBIMomentum(0.1, 30), []signal.Features{
		obs("BONKUSDC", 200, 1, -0.01, now.Add(-2*time.Second)),
		obs("BONKUSDC", 199, 1, -0.01, now.Add(-time.Second)),
		obs("BONKUSDC", 198, 1, -0.01, now),
	})
	if sig == nil || sig.Score >= 0 {
		t.Fatalf("expected short signal, got %+v", sig)
	}
}

func TestOBIMomentumBelowThreshold(t *testing.T) {
	s := NewOBIMomentum(0.9, 30)
	if sig := s.Evaluate(obs("SOLUSDC", 50, 1, 0, time.Now())); sig != nil {
		t.Fatalf("expected no signal below threshold, got %+v", sig)
	}
}

func TestOBIMomentumKeepsSymbolsApart(t *testing.T) {
	s := NewOBIMomentum(0.1, 30)
	now := time.Now()
	s.Evaluate(obs("AAA", 100, 5, -0.02, now.Add(-time.Second)))
	sig := s.Evaluate(obs("BBB", 100, 5, 0.02, now))
	if sig == nil || sig.Score <= 0 {
		t.Fatalf("history of another symbol leaked into BBB: %+v", sig)
	}
}

func TestTrendFollowerLong(t *testing.T) {
	now := time.Now()
	sig := run(NewTrendFollower(0.02, 120, 100), []signal.Features{
		obs("WIFSOL", 0.01, 5000, 0, now.Add(-90*time.Second)),
		obs("WIFSOL", 0.0105, 4000, 0.05, now.Add(-60*time.Second)),
		obs("WIFSOL", 0.011, 3000, 0.05, now),
	})
	if sig == nil || sig.Score <= 0 {
		t.Fatalf("expected long signal, got %+v", sig)
	}
}

func TestTrendFollowerShort(t *testing.T) {
	now := time.Now()
	sig := run(NewTrendFollower(0.02, 120, 100), []signal.Features{
		obs("BODENSOL", 0.02, 4000, 0, now.Add(-90*time.Second)),
		obs("BODENSOL", 0.0195, 4000, -0.02, now.Add(-60*time.Second)),
		obs("BODENSOL", 0.018, 4000, -0.07, now),
	})
	if sig == nil || sig.Score >= 0 {
		t.Fatalf("expected short signal, got %+v", sig)
	}
}

func TestTrendFollowerRespectsVolume(t *testing.T) {
	now := time.Now()
	sig := run(NewTrendFollower(0.02, 120, 1000), []signal.Features{
		obs("LOWVOL", 1, 1, 0, now.Add(-30*time.Second)),
		obs("LOWVOL", 1.03, 1, 0.03, now),
	})
	if sig != nil {
		t.Fatalf("expected no signal on thin volume, got %+v", sig)
	}
}

func TestTrendFollowerForgetsOldSamples(t *testing.T) {
	now := time.Now()
	s := NewTrendFollower(0.02, 60, 0)
	s.Evaluate(obs("OLD", 1, 1, 0, now.Add(-5*time.Minute)))
	if sig := s.Evaluate(obs("OLD", 1.5, 1, 0.5, now)); sig != nil {
		t.Fatalf("sample outside the window should be dropped, got %+v", sig)
	}
}

func TestBuild(t *testing.T) {
	for mode, want := range map[string]string{"": "obi_momentum", "trend": "trend_follower", "OBI": "obi_momentum"} {
		s, err := Build(mode, Params{})
		if err != nil || s.Name() != want {
			t.Fatalf("Build(%q) = %v, %v; want %s", mode, s, err, want)
		}
	}
	if _, err := Build("martingale", Params{}); err == nil {
		t.Fatalf("unknown mode should fail")
	}
}
