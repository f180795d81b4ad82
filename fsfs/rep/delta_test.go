package rep

import "testing"

func TestSelectBaseZeroPredecessorIsPlain(t *testing.T) {
	plan := SelectBase(0, DefaultDeltificationConfig(), nil)
	if !plan.UsePlain {
		t.Fatalf("expected PLAIN for predecessor-count 0, got %+v", plan)
	}
}

func TestSelectBaseWalkDisabledForcesPlain(t *testing.T) {
	cfg := DeltificationConfig{MaxLinearDeltification: 16, MaxDeltificationWalk: 0}
	plan := SelectBase(19, cfg, nil)
	if !plan.UsePlain {
		t.Fatalf("max-deltification-walk=0 must force PLAIN, got %+v", plan)
	}
}

func TestSelectBaseLinearPrefix(t *testing.T) {
	cfg := DeltificationConfig{MaxLinearDeltification: 4, MaxDeltificationWalk: 1023}
	// p=1,2,3: p-c < L(=4), so the base is the immediate predecessor.
	for _, p := range []int{1, 2, 3} {
		plan := SelectBase(p, cfg, nil)
		if plan.UsePlain || plan.BackSteps != 1 {
			t.Fatalf("p=%d: expected linear base (BackSteps=1), got %+v", p, plan)
		}
	}
}

func TestSelectBaseSkipDeltaClearsLowSetBit(t *testing.T) {
	cfg := DeltificationConfig{MaxLinearDeltification: 4, MaxDeltificationWalk: 1023}
	cases := []struct {
		p         int
		backSteps int
	}{
		{p: 5, backSteps: 1}, // c=5&4=4, walk=1 < L -> linear override
		{p: 6, backSteps: 1}, // c=6&5=4, walk=2 < L -> linear override
		{p: 8, backSteps: 8}, // c=8&7=0, walk=8 >= L -> skip-delta
	}
	for _, c := range cases {
		plan := SelectBase(c.p, cfg, nil)
		if plan.UsePlain || plan.BackSteps != c.backSteps {
			t.Fatalf("p=%d: expected BackSteps=%d, got %+v", c.p, c.backSteps, plan)
		}
	}
}

func TestSelectBaseAbandonsOnLongWalk(t *testing.T) {
	cfg := DeltificationConfig{MaxLinearDeltification: 16, MaxDeltificationWalk: 10}
	// p=1035: c = 1035 & 1034 = 1034, walk = 1.
	// Pick a p whose walk distance genuinely exceeds W: p=1024 -> c=0, walk=1024.
	plan := SelectBase(1024, cfg, nil)
	if !plan.UsePlain {
		t.Fatalf("expected PLAIN once walk exceeds W, got %+v", plan)
	}
}

func TestSelectBaseSharedBaseChainTooLongFallsBackToPlain(t *testing.T) {
	cfg := DeltificationConfig{MaxLinearDeltification: 4, MaxDeltificationWalk: 1023}
	longChain := func(backSteps int) int { return 2*cfg.MaxLinearDeltification + 3 }
	plan := SelectBase(8, cfg, longChain)
	if !plan.UsePlain {
		t.Fatalf("expected PLAIN when shared base's chain exceeds 2L+2, got %+v", plan)
	}
}

func TestHeaderLineRoundTrip(t *testing.T) {
	r := &Representation{Kind: Delta, Base: Key{Revision: 12, Offset: 4096}, BaseLen: 512}
	line := r.HeaderLine()
	kind, base, baseLen, err := ParseHeaderLine(line)
	if err != nil {
		t.Fatal(err)
	}
	if kind != Delta || base != r.Base || baseLen != 512 {
		t.Fatalf("round trip mismatch: got kind=%v base=%+v baseLen=%d", kind, base, baseLen)
	}

	plainLine := (&Representation{Kind: Plain}).HeaderLine()
	kind, _, _, err = ParseHeaderLine(plainLine)
	if err != nil || kind != Plain {
		t.Fatalf("expected PLAIN round trip, got kind=%v err=%v", kind, err)
	}
}

func TestParseHeaderLineRejectsGarbage(t *testing.T) {
	if _, _, _, err := ParseHeaderLine("GARBAGE 1 2"); err == nil {
		t.Fatal("expected error for malformed header")
	}
}
