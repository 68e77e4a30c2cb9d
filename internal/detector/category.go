package detector

import "flowsentry/pkg/models"

// Feature groups used for attack-category attribution. The mapping is a
// fixed lookup: identical anomalous feature sets always attribute the same
// category.
var categoryGroups = []struct {
	category string
	features map[string]struct{}
}{
	{
		// Connection-count and duration pressure: lateral-movement-like.
		category: models.CategoryLateralMove,
		features: featureSet("dur", "spkts", "dpkts", "ct_srv_src", "ct_srv_dst",
			"ct_dst_ltm", "ct_src_ltm", "ct_dst_src_ltm"),
	},
	{
		// Service/state diversity: scanning and probing.
		category: models.CategoryReconnaissance,
		features: featureSet("proto", "service", "state", "ct_state_ttl",
			"ct_src_dport_ltm", "ct_dst_sport_ltm", "is_sm_ips_ports"),
	},
	{
		// Outbound byte volume: exfiltration-like.
		category: models.CategoryExfiltration,
		features: featureSet("sbytes", "sload", "smean", "rate",
			"trans_depth", "response_body_len"),
	},
}

// AttributeCategory maps the set of features that crossed the z-score
// threshold to a heuristic attack category. The group with strictly the most
// hits wins; ties and empty sets fall back to Generic.
func AttributeCategory(anomalousFeatures []string) string {
	hits := make([]int, len(categoryGroups))
	for _, name := range anomalousFeatures {
		for i := range categoryGroups {
			if _, ok := categoryGroups[i].features[name]; ok {
				hits[i]++
			}
		}
	}

	best, bestCount, tied := -1, 0, false
	for i, n := range hits {
		switch {
		case n > bestCount:
			best, bestCount, tied = i, n, false
		case n == bestCount && n > 0:
			tied = true
		}
	}
	if best < 0 || bestCount == 0 || tied {
		return models.CategoryGeneric
	}
	return categoryGroups[best].category
}

func featureSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, name := range names {
		out[name] = struct{}{}
	}
	return out
}
