package fraud

import (
	"fmt"

	"credit-decision-service/internal/domain/feature"
	"credit-decision-service/internal/domain/model"
)

// TrustGraphDetector turns a trust-network summary into fraud signals.
// It declares no behavioral keys; the graph summary arrives on the
// input context built by the caller.
type TrustGraphDetector struct {
	model.Contract
}

func NewTrustGraphDetector() *TrustGraphDetector {
	return &TrustGraphDetector{
		Contract: model.Contract{
			ModelName:      "trust_graph_fraud",
			ModelVersion:   "2.0",
			FeatureSet:     feature.SetCoreBehavioral,
			FeatureVersion: feature.VersionV1,
			RequiredKeys:   nil,
		},
	}
}

func (d *TrustGraphDetector) Evaluate(in *model.Input) (*Result, error) {
	res := &Result{DetectorName: d.Name()}

	graph := in.TrustGraph
	if graph == nil {
		res.FraudScore = 0.3
		res.Flags = append(res.Flags, "no_trust_graph_data")
		res.Explanation = append(res.Explanation, "No trust graph data available, assuming moderate risk")
		return res, nil
	}

	res.FraudScore = 1 - graph.TrustScore

	if graph.FlagRisk {
		res.Flags = append(res.Flags, "fraud_ring_detected")
		res.Explanation = append(res.Explanation,
			fmt.Sprintf("Peer network flagged as a fraud ring: %d of %d peers defaulted", graph.DefaultedCount, graph.NetworkSize))
	}
	if graph.NetworkSize == 0 {
		// An empty network carries no repayment evidence either way, so
		// isolation replaces the trust-derived baseline with moderate risk
		res.FraudScore = 0.3
		res.Flags = append(res.Flags, "network_isolation")
		res.Explanation = append(res.Explanation, "Borrower has no peer network, isolation implies moderate baseline risk")
	}
	if graph.DefaultRate > 0.3 {
		res.Flags = append(res.Flags, "high_peer_default_rate")
		res.Explanation = append(res.Explanation,
			fmt.Sprintf("Peer default rate %.2f exceeds 0.30", graph.DefaultRate))
	}
	if graph.TrustScore < 0.3 {
		res.Flags = append(res.Flags, "very_low_trust_score")
		res.Explanation = append(res.Explanation,
			fmt.Sprintf("Trust score %.2f is very low", graph.TrustScore))
	} else if graph.TrustScore < 0.5 {
		res.Flags = append(res.Flags, "low_trust_score")
		res.Explanation = append(res.Explanation,
			fmt.Sprintf("Trust score %.2f is below neutral", graph.TrustScore))
	}

	res.FraudScore = clampScore(res.FraudScore)
	return res, nil
}
