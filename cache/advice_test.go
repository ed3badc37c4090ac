package cache

import (
	"testing"

	"github.com/sharedcode/cuberepo/mocks"
)

func TestAdviceAppliedByNamePattern(t *testing.T) {
	r := NewAdviceRegistry()
	audit := mocks.NewAdvice("audit")
	r.Add(appId, "rate*", audit)

	cube := mocks.NewCube("rates", appId)
	r.Apply(appId, cube)
	got := cube.Advices()
	if len(got) != 1 {
		t.Fatalf("expected 1 advice, got %d", len(got))
	}
	if got[0].Method != "run" {
		t.Errorf("expected the default method, got %s", got[0].Method)
	}

	other := mocks.NewCube("surcharge", appId)
	r.Apply(appId, other)
	if len(other.Advices()) != 0 {
		t.Errorf("pattern should not match surcharge")
	}
}

func TestAdviceBindsPerMethodAxisColumn(t *testing.T) {
	r := NewAdviceRegistry()
	r.Add(appId, "rates.calc*()", mocks.NewAdvice("trace"))

	cube := mocks.NewCube("rates", appId, mocks.NewAxis("method", false, "calcBase", "calcTax", "lookup"))
	r.Apply(appId, cube)
	got := cube.Advices()
	if len(got) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(got))
	}
	methods := map[string]bool{}
	for _, b := range got {
		methods[b.Method] = true
	}
	if !methods["calcBase"] || !methods["calcTax"] {
		t.Errorf("expected calcBase and calcTax, got %v", methods)
	}
}

func TestAdviceClear(t *testing.T) {
	r := NewAdviceRegistry()
	r.Add(appId, "*", mocks.NewAdvice("audit"))
	r.Clear(appId)
	cube := mocks.NewCube("rates", appId)
	r.Apply(appId, cube)
	if len(cube.Advices()) != 0 {
		t.Errorf("expected no advices after Clear")
	}
}
