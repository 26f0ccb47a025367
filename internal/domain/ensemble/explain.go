package ensemble

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"credit-decision-service/internal/domain/model"
)

// StructuredExplanation is the cross-model factor view built by the
// explainability engine
type StructuredExplanation struct {
	Summary    string         `json:"summary"`
	TopFactors []model.Factor `json:"top_factors"`
}

// Explainer converts one model's run into weighted factors
type Explainer interface {
	// Matches reports whether this explainer handles the named model
	Matches(modelName string) bool
	Factors(run *ModelRun, exp *model.Explanation) []model.Factor
}

// ExplainabilityEngine routes each model output to an explainer by
// name match and aggregates their factors by descending weight
// magnitude, deduplicated by factor name
type ExplainabilityEngine struct {
	explainers []Explainer
}

// NewExplainabilityEngine registers the rule and graph explainers
func NewExplainabilityEngine() *ExplainabilityEngine {
	return &ExplainabilityEngine{
		explainers: []Explainer{
			&ruleExplainer{},
			&graphExplainer{},
		},
	}
}

// Explain aggregates factors across all succeeded models. Models with
// no matching explainer contribute nothing; the result is
// deterministic for identical inputs.
func (e *ExplainabilityEngine) Explain(
	modelOrder []string,
	runs map[string]*ModelRun,
	perModel map[string]*model.Explanation,
) *StructuredExplanation {
	var factors []model.Factor
	explained := 0

	for _, name := range modelOrder {
		run := runs[name]
		if run == nil || run.Output == nil {
			continue
		}
		for _, explainer := range e.explainers {
			if !explainer.Matches(name) {
				continue
			}
			factors = append(factors, explainer.Factors(run, perModel[name])...)
			explained++
			break
		}
	}

	factors = dedupeByName(factors)
	sort.SliceStable(factors, func(i, j int) bool {
		wi, wj := math.Abs(factors[i].Impact), math.Abs(factors[j].Impact)
		if wi != wj {
			return wi > wj
		}
		return factors[i].Factor < factors[j].Factor
	})

	return &StructuredExplanation{
		Summary:    fmt.Sprintf("%d factors aggregated from %d explained models", len(factors), explained),
		TopFactors: factors,
	}
}

// dedupeByName keeps the first occurrence of each factor name
func dedupeByName(factors []model.Factor) []model.Factor {
	seen := make(map[string]bool, len(factors))
	kept := factors[:0]
	for _, f := range factors {
		if seen[f.Factor] {
			continue
		}
		seen[f.Factor] = true
		kept = append(kept, f)
	}
	return kept
}

// ruleExplainer handles rule-based scorers, passing their bracket
// factors through
type ruleExplainer struct{}

func (r *ruleExplainer) Matches(name string) bool {
	return strings.Contains(strings.ToLower(name), "rule_based")
}

func (r *ruleExplainer) Factors(run *ModelRun, exp *model.Explanation) []model.Factor {
	if exp == nil {
		return nil
	}
	return exp.Factors
}

// graphExplainer handles trust-graph scorers, deriving factors from
// the network signal itself
type graphExplainer struct{}

func (g *graphExplainer) Matches(name string) bool {
	return strings.Contains(strings.ToLower(name), "trust_graph")
}

func (g *graphExplainer) Factors(run *ModelRun, exp *model.Explanation) []model.Factor {
	out := run.Output
	var factors []model.Factor
	if out.TrustScore != nil {
		factors = append(factors, model.Factor{
			Factor:      "trust_score",
			Impact:      (*out.TrustScore - 0.5) * 100,
			Explanation: fmt.Sprintf("Peer network trust of %.2f relative to the neutral 0.50", *out.TrustScore),
		})
	}
	if out.FlagRisk {
		factors = append(factors, model.Factor{
			Factor:      "peer_default_risk",
			Impact:      -100,
			Explanation: "Majority of trust network peers defaulted",
		})
	}
	if exp != nil {
		factors = append(factors, exp.Factors...)
	}
	return factors
}
