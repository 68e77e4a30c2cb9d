package generator

import (
	"testing"

	"flowsentry/pkg/models"
)

func TestNormalFlowCoversSchema(t *testing.T) {
	gen := New(Config{Seed: 1})
	rec := gen.Normal()

	if rec.Label != 0 || rec.AttackCategory != models.CategoryNormal {
		t.Fatalf("normal profile mislabeled: %+v", rec)
	}
	for _, name := range models.FeatureNames {
		if _, ok := rec.Features[name]; !ok {
			t.Fatalf("feature %s missing from generated flow", name)
		}
	}
}

func TestAnomalyProfilesCarryCategories(t *testing.T) {
	gen := New(Config{Seed: 1})

	cases := []struct {
		rec  *models.FlowRecord
		want string
	}{
		{gen.LateralMovement(), models.CategoryLateralMove},
		{gen.Reconnaissance(), models.CategoryReconnaissance},
		{gen.Exfiltration(), models.CategoryExfiltration},
	}
	for _, c := range cases {
		if c.rec.Label != 1 {
			t.Fatalf("%s profile not labeled anomalous", c.want)
		}
		if c.rec.AttackCategory != c.want {
			t.Fatalf("expected category %s, got %s", c.want, c.rec.AttackCategory)
		}
	}
}

func TestExfiltrationSkewsOutboundVolume(t *testing.T) {
	gen := New(Config{Seed: 42})
	for i := 0; i < 20; i++ {
		rec := gen.Exfiltration()
		if rec.Features["sbytes"] < 100000 {
			t.Fatalf("exfiltration outbound volume too low: %v", rec.Features["sbytes"])
		}
		if rec.Features["dur"] < 300 {
			t.Fatalf("exfiltration duration too short: %v", rec.Features["dur"])
		}
	}
}

func TestMixRespectsAnomalyRate(t *testing.T) {
	allNormal := New(Config{AnomalyRate: 0, Seed: 7})
	for _, rec := range allNormal.Batch(100) {
		if rec.Label != 0 {
			t.Fatalf("rate 0 produced an anomaly")
		}
	}

	allAnomalous := New(Config{AnomalyRate: 1, Seed: 7})
	for _, rec := range allAnomalous.Batch(100) {
		if rec.Label != 1 {
			t.Fatalf("rate 1 produced a normal flow")
		}
	}
}

func TestSeededStreamsAreReproducible(t *testing.T) {
	a := New(Config{AnomalyRate: 0.2, Seed: 99}).Batch(50)
	b := New(Config{AnomalyRate: 0.2, Seed: 99}).Batch(50)

	for i := range a {
		if a[i].Label != b[i].Label || a[i].AttackCategory != b[i].AttackCategory {
			t.Fatalf("seeded streams diverged at %d", i)
		}
		if a[i].Features["sbytes"] != b[i].Features["sbytes"] {
			t.Fatalf("seeded feature values diverged at %d", i)
		}
	}
}
