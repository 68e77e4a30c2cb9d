package models

// Attack category tags carried by labeled flows and attributed to alerts.
const (
	CategoryNormal         = "Normal"
	CategoryLateralMove    = "Lateral Movement"
	CategoryReconnaissance = "Reconnaissance"
	CategoryExfiltration   = "Exfiltration"
	CategoryGeneric        = "Generic"
)

// FeatureNames is the fixed flow feature schema, in column order.
// It mirrors the UNSW-NB15 numeric feature layout.
var FeatureNames = []string{
	"dur", "proto", "service", "state", "spkts", "dpkts", "sbytes", "dbytes",
	"rate", "sttl", "dttl", "sload", "dload", "sloss", "dloss", "sinpkt",
	"dinpkt", "sjit", "djit", "swin", "stcpb", "dtcpb", "dwin", "tcprtt",
	"synack", "ackdat", "smean", "dmean", "trans_depth", "response_body_len",
	"ct_srv_src", "ct_state_ttl", "ct_flw_http_mthd", "is_ftp_login",
	"ct_ftp_cmd", "ct_srv_dst", "ct_dst_ltm", "ct_src_ltm", "ct_src_dport_ltm",
	"ct_dst_sport_ltm", "ct_dst_src_ltm", "is_sm_ips_ports",
}

// FlowRecord is one observed network flow: the fixed feature vector plus its
// ground-truth label (0 normal, 1 anomaly) and optional attack category.
type FlowRecord struct {
	Features       map[string]float64 `json:"features"`
	Label          int                `json:"label"`
	AttackCategory string             `json:"attack_cat,omitempty"`
}

// Feature returns a feature value by name, zero when absent.
func (r *FlowRecord) Feature(name string) float64 {
	if r == nil || r.Features == nil {
		return 0
	}
	return r.Features[name]
}

// Clone returns a deep copy of the record.
func (r *FlowRecord) Clone() *FlowRecord {
	if r == nil {
		return nil
	}
	out := &FlowRecord{
		Features:       make(map[string]float64, len(r.Features)),
		Label:          r.Label,
		AttackCategory: r.AttackCategory,
	}
	for k, v := range r.Features {
		out.Features[k] = v
	}
	return out
}

// Flipped returns a poisoned copy: label forced to 0, category to Normal,
// feature values untouched.
func (r *FlowRecord) Flipped() *FlowRecord {
	out := r.Clone()
	out.Label = 0
	out.AttackCategory = CategoryNormal
	return out
}
