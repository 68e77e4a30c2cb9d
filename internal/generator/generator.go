// Package generator synthesizes labeled network flows in the fixed feature
// schema: a normal baseline profile plus lateral movement, reconnaissance,
// and exfiltration anomaly profiles.
package generator

import (
	"math/rand"

	"flowsentry/internal/dataset"
	"flowsentry/pkg/models"
)

// Config controls the generated traffic mix.
type Config struct {
	// AnomalyRate is the fraction of anomalous flows in [0,1].
	AnomalyRate float64
	// Seed fixes the random stream; 0 leaves it unseeded behavior to the caller.
	Seed int64
}

// Generator produces synthetic flow records.
type Generator struct {
	rng  *rand.Rand
	rate float64
}

var (
	normalProtocols = []string{"tcp", "udp", "icmp"}
	normalServices  = []string{"http", "https", "ssh", "ftp", "dns", "smtp"}
	normalStates    = []string{"CON", "FIN", "REQ", "RST"}
)

// New creates a generator with the given traffic mix.
func New(cfg Config) *Generator {
	rate := cfg.AnomalyRate
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &Generator{
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		rate: rate,
	}
}

// Next generates one flow according to the configured anomaly rate.
func (g *Generator) Next() *models.FlowRecord {
	if g.rng.Float64() >= g.rate {
		return g.Normal()
	}
	switch g.rng.Intn(3) {
	case 0:
		return g.LateralMovement()
	case 1:
		return g.Reconnaissance()
	default:
		return g.Exfiltration()
	}
}

// Batch generates n flows.
func (g *Generator) Batch(n int) []*models.FlowRecord {
	out := make([]*models.FlowRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.Next())
	}
	return out
}

// Normal generates a benign flow.
func (g *Generator) Normal() *models.FlowRecord {
	f := map[string]float64{
		"dur":               g.uniform(0.1, 300.0),
		"proto":             dataset.Fold(g.pick(normalProtocols)),
		"service":           dataset.Fold(g.pick(normalServices)),
		"state":             dataset.Fold(g.pick(normalStates)),
		"spkts":             g.intn(1, 100),
		"dpkts":             g.intn(1, 100),
		"sbytes":            g.intn(100, 10000),
		"dbytes":            g.intn(100, 10000),
		"rate":              g.uniform(1.0, 1000.0),
		"sttl":              g.intn(30, 255),
		"dttl":              g.intn(30, 255),
		"sload":             g.uniform(1.0, 5000.0),
		"dload":             g.uniform(1.0, 5000.0),
		"sloss":             g.intn(0, 5),
		"dloss":             g.intn(0, 5),
		"sinpkt":            g.uniform(0.1, 10.0),
		"dinpkt":            g.uniform(0.1, 10.0),
		"sjit":              g.uniform(0.01, 1.0),
		"djit":              g.uniform(0.01, 1.0),
		"swin":              g.intn(1024, 65535),
		"stcpb":             g.intn(0, 100000),
		"dtcpb":             g.intn(0, 100000),
		"dwin":              g.intn(1024, 65535),
		"tcprtt":            g.uniform(0.1, 2.0),
		"synack":            g.uniform(0.1, 2.0),
		"ackdat":            g.uniform(0.1, 2.0),
		"smean":             g.intn(50, 1500),
		"dmean":             g.intn(50, 1500),
		"trans_depth":       g.intn(0, 10),
		"response_body_len": g.intn(0, 5000),
		"ct_srv_src":        g.intn(1, 50),
		"ct_state_ttl":      g.intn(1, 100),
		"ct_flw_http_mthd":  g.intn(0, 10),
		"is_ftp_login":      g.intn(0, 1),
		"ct_ftp_cmd":        g.intn(0, 5),
		"ct_srv_dst":        g.intn(1, 50),
		"ct_dst_ltm":        g.intn(1, 100),
		"ct_src_ltm":        g.intn(1, 100),
		"ct_src_dport_ltm":  g.intn(1, 50),
		"ct_dst_sport_ltm":  g.intn(1, 50),
		"ct_dst_src_ltm":    g.intn(1, 100),
		"is_sm_ips_ports":   g.intn(0, 1),
	}
	return &models.FlowRecord{Features: f, Label: 0, AttackCategory: models.CategoryNormal}
}

// LateralMovement generates a flow with high connection counts and bulk
// transfer toward an unknown service.
func (g *Generator) LateralMovement() *models.FlowRecord {
	rec := g.Normal()
	rec.Features["proto"] = dataset.Fold("tcp")
	rec.Features["service"] = dataset.Fold("-")
	rec.Features["spkts"] = g.intn(100, 1000)
	rec.Features["dpkts"] = g.intn(50, 500)
	rec.Features["sbytes"] = g.intn(5000, 50000)
	rec.Features["dbytes"] = g.intn(1000, 20000)
	rec.Features["ct_srv_src"] = g.intn(50, 200)
	rec.Features["ct_srv_dst"] = g.intn(50, 200)
	rec.Features["ct_dst_ltm"] = g.intn(100, 500)
	rec.Label = 1
	rec.AttackCategory = models.CategoryLateralMove
	return rec
}

// Reconnaissance generates a short scan-like flow touching many services
// and destination ports.
func (g *Generator) Reconnaissance() *models.FlowRecord {
	rec := g.Normal()
	rec.Features["dur"] = g.uniform(0.01, 5.0)
	rec.Features["spkts"] = g.intn(1, 10)
	rec.Features["dpkts"] = g.intn(0, 5)
	rec.Features["sbytes"] = g.intn(40, 200)
	rec.Features["dbytes"] = g.intn(0, 100)
	rec.Features["ct_srv_dst"] = g.intn(100, 500)
	rec.Features["ct_dst_sport_ltm"] = g.intn(100, 1000)
	rec.Label = 1
	rec.AttackCategory = models.CategoryReconnaissance
	return rec
}

// Exfiltration generates a long flow with heavy outbound volume.
func (g *Generator) Exfiltration() *models.FlowRecord {
	rec := g.Normal()
	rec.Features["dur"] = g.uniform(300.0, 3600.0)
	rec.Features["sbytes"] = g.intn(100000, 1000000)
	rec.Features["dbytes"] = g.intn(1000, 10000)
	rec.Features["sload"] = g.uniform(10000.0, 100000.0)
	rec.Features["trans_depth"] = g.intn(10, 50)
	rec.Features["response_body_len"] = g.intn(10000, 100000)
	rec.Label = 1
	rec.AttackCategory = models.CategoryExfiltration
	return rec
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *Generator) pick(values []string) string {
	return values[g.rng.Intn(len(values))]
}

func (g *Generator) intn(lo, hi int) float64 {
	return float64(lo + g.rng.Intn(hi-lo+1))
}
