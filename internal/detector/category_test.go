package detector

import (
	"testing"

	"flowsentry/pkg/models"
)

func TestAttributeCategoryDominantGroupWins(t *testing.T) {
	got := AttributeCategory([]string{"sbytes", "sload", "trans_depth"})
	if got != models.CategoryExfiltration {
		t.Fatalf("expected Exfiltration, got %s", got)
	}

	got = AttributeCategory([]string{"ct_srv_src", "ct_srv_dst", "ct_dst_ltm", "sbytes"})
	if got != models.CategoryLateralMove {
		t.Fatalf("expected Lateral Movement, got %s", got)
	}

	got = AttributeCategory([]string{"service", "state", "ct_dst_sport_ltm"})
	if got != models.CategoryReconnaissance {
		t.Fatalf("expected Reconnaissance, got %s", got)
	}
}

func TestAttributeCategoryTieFallsBackToGeneric(t *testing.T) {
	got := AttributeCategory([]string{"ct_srv_src", "service"})
	if got != models.CategoryGeneric {
		t.Fatalf("expected Generic on tie, got %s", got)
	}
}

func TestAttributeCategoryNoGroupHitIsGeneric(t *testing.T) {
	if got := AttributeCategory(nil); got != models.CategoryGeneric {
		t.Fatalf("expected Generic for empty set, got %s", got)
	}
	if got := AttributeCategory([]string{"swin", "dwin"}); got != models.CategoryGeneric {
		t.Fatalf("expected Generic for ungrouped features, got %s", got)
	}
}

func TestAttributeCategoryIsDeterministic(t *testing.T) {
	features := []string{"dur", "spkts", "dpkts", "sbytes"}
	first := AttributeCategory(features)
	for i := 0; i < 10; i++ {
		if got := AttributeCategory(features); got != first {
			t.Fatalf("attribution not deterministic: %s vs %s", got, first)
		}
	}
}
