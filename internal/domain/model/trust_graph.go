package model

import (
	"fmt"
	"math"

	"credit-decision-service/internal/domain/feature"
)

// TrustGraphModel derives a trust score from a borrower's peer
// repayment network. Proof of concept: it reads peers from the input,
// not from the feature vector, and declares no required keys.
type TrustGraphModel struct {
	Contract
}

func NewTrustGraphModel() *TrustGraphModel {
	return &TrustGraphModel{
		Contract: Contract{
			ModelName:      "trust_graph",
			ModelVersion:   "1.0-POC",
			FeatureSet:     feature.SetCoreBehavioral,
			FeatureVersion: feature.VersionV1,
			RequiredKeys:   nil,
		},
	}
}

func (m *TrustGraphModel) Predict(in *Input) (*Output, error) {
	trust := 0.5
	defaulted := 0

	for _, peer := range in.Peers {
		delta := math.Log(1+float64(peer.InteractionCount)) / 10
		if peer.Defaulted() {
			trust -= delta
			defaulted++
		} else {
			trust += delta
		}
	}

	if trust < 0 {
		trust = 0
	}
	if trust > 1 {
		trust = 1
	}

	flagRisk := false
	if len(in.Peers) > 0 && float64(defaulted)/float64(len(in.Peers)) > 0.5 {
		flagRisk = true
	}

	return &Output{
		ModelName:    m.ModelName,
		ModelVersion: m.ModelVersion,
		TrustScore:   &trust,
		FlagRisk:     flagRisk,
	}, nil
}

func (m *TrustGraphModel) Explain(in *Input, out *Output) (*Explanation, error) {
	defaulted := 0
	for _, peer := range in.Peers {
		if peer.Defaulted() {
			defaulted++
		}
	}

	factors := []Factor{
		{
			Factor:      "peer_network_size",
			Impact:      float64(len(in.Peers)),
			Explanation: fmt.Sprintf("Borrower has %d peers in the trust network", len(in.Peers)),
		},
		{
			Factor:      "defaulted_peers",
			Impact:      -float64(defaulted),
			Explanation: fmt.Sprintf("%d peers defaulted on their loans", defaulted),
		},
	}

	summary := "No trust network data available, neutral trust assumed"
	if out != nil && out.TrustScore != nil && len(in.Peers) > 0 {
		summary = fmt.Sprintf("Trust score %.2f from %d peer relationships", *out.TrustScore, len(in.Peers))
	}
	if out != nil && out.FlagRisk {
		summary += "; majority of peers defaulted, network flagged as risky"
	}

	return &Explanation{
		Summary:      summary,
		Factors:      factors,
		FeaturesUsed: nil,
	}, nil
}

// GraphInfo summarizes the prediction for downstream fraud context
func (m *TrustGraphModel) GraphInfo(in *Input, out *Output) *TrustGraphInfo {
	if out == nil || out.TrustScore == nil {
		return nil
	}
	defaulted := 0
	for _, peer := range in.Peers {
		if peer.Defaulted() {
			defaulted++
		}
	}
	rate := 0.0
	if len(in.Peers) > 0 {
		rate = float64(defaulted) / float64(len(in.Peers))
	}
	return &TrustGraphInfo{
		TrustScore:     *out.TrustScore,
		FlagRisk:       out.FlagRisk,
		DefaultRate:    rate,
		NetworkSize:    len(in.Peers),
		DefaultedCount: defaulted,
	}
}
