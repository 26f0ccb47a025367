package policy

import (
	"fmt"

	"credit-decision-service/internal/domain/decision"
)

// FairnessReport summarizes approval-rate parity over a recent
// decision window
type FairnessReport struct {
	SampleSize      int                `json:"sample_size"`
	DisparateImpact map[string]float64 `json:"disparate_impact"`
	BiasDetected    bool               `json:"bias_detected"`
	Flags           []string           `json:"flags,omitempty"`
}

// FairnessEvaluator applies the four-fifths rule to approval rates
// grouped by gender and region. Proof of concept over a small window;
// it informs review routing, never automated rejection.
type FairnessEvaluator struct {
	minRatio  float64
	minGroup  int
	attribute []string
}

func NewFairnessEvaluator() *FairnessEvaluator {
	return &FairnessEvaluator{
		minRatio:  0.8,
		minGroup:  3,
		attribute: []string{"gender", "region"},
	}
}

// Evaluate computes the disparate impact ratio per demographic
// attribute. Groups smaller than the minimum are skipped to avoid
// noise from single decisions.
func (f *FairnessEvaluator) Evaluate(rows []*decision.DemographicDecision) *FairnessReport {
	report := &FairnessReport{
		SampleSize:      len(rows),
		DisparateImpact: make(map[string]float64, len(f.attribute)),
	}

	for _, attr := range f.attribute {
		ratio, ok := f.impactRatio(rows, attr)
		if !ok {
			continue
		}
		report.DisparateImpact[attr] = ratio
		if ratio < f.minRatio {
			report.BiasDetected = true
			report.Flags = append(report.Flags,
				fmt.Sprintf("disparate_impact_%s_%.2f", attr, ratio))
		}
	}
	return report
}

func (f *FairnessEvaluator) impactRatio(rows []*decision.DemographicDecision, attr string) (float64, bool) {
	total := make(map[string]int)
	approved := make(map[string]int)

	for _, row := range rows {
		group := groupOf(row, attr)
		if group == "" {
			continue
		}
		total[group]++
		if row.Decision == decision.StoredApproved {
			approved[group]++
		}
	}

	lo, hi := 0.0, 0.0
	groups := 0
	for group, n := range total {
		if n < f.minGroup {
			continue
		}
		rate := float64(approved[group]) / float64(n)
		if groups == 0 || rate < lo {
			lo = rate
		}
		if groups == 0 || rate > hi {
			hi = rate
		}
		groups++
	}

	if groups < 2 || hi == 0 {
		return 0, false
	}
	return lo / hi, true
}

func groupOf(row *decision.DemographicDecision, attr string) string {
	switch attr {
	case "gender":
		return row.Gender
	case "region":
		return row.Region
	default:
		return ""
	}
}
