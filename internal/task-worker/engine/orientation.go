package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"value-calculation-service/internal/models"
	"value-calculation-service/internal/store"
)

var one = decimal.NewFromInt(1)

// matchLadder returns the first ladder, in ladder_order, whose band holds v.
// Bands are [lower, upper); a null limit is unbounded.
func matchLadder(ladders []models.OrientationLadder, v decimal.Decimal) (*models.OrientationLadder, bool) {
	for i := range ladders {
		l := &ladders[i]
		if l.LowerLimit.Valid && v.LessThan(l.LowerLimit.Decimal) {
			continue
		}
		if l.UpperLimit.Valid && !v.LessThan(l.UpperLimit.Decimal) {
			continue
		}
		return l, true
	}
	return nil, false
}

// orientResult is the adjusted weight of one leaf cell plus its audit rows.
type orientResult struct {
	weight  decimal.Decimal
	details []models.OrientationAdjustmentDetail
}

// orient evaluates the node's rules in their configured order.
// first_match stops at the first rule whose ladder matches; cumulative
// multiplies every matching intensity onto the running weight.
func orient(node *models.ScoringNode, dept models.Department, workload decimal.Decimal,
	rules *store.RuleSet, policy models.CompositionPolicy) orientResult {

	original := node.Weight.Decimal
	res := orientResult{weight: original}
	if rules == nil {
		return res
	}

	for _, ruleID := range node.OrientationRuleIDs {
		rule, ok := rules.Rules[ruleID]
		if !ok {
			continue
		}
		d := models.OrientationAdjustmentDetail{
			NodeID:              node.ID,
			NodeCode:            node.Code,
			NodeName:            node.Name,
			DepartmentID:        dept.ID,
			DepartmentCode:      dept.Code,
			RuleID:              rule.ID,
			RuleName:            rule.Name,
			Category:            rule.Category,
			AdjustmentIntensity: one,
			WeightBefore:        res.weight,
			WeightAfter:         res.weight,
			ValueBefore:         workload.Mul(res.weight),
			ValueAfter:          workload.Mul(res.weight),
		}

		metric, reason, ok := ruleMetric(rule, dept.Code, rules, &d)
		if !ok {
			d.Reason = reason
			res.details = append(res.details, d)
			continue
		}

		ladder, matched := matchLadder(rule.Ladders, metric)
		if !matched {
			d.Reason = fmt.Sprintf("%s %s matches no ladder", metricName(rule.Category), metric.String())
			res.details = append(res.details, d)
			continue
		}

		ladderID := ladder.ID
		d.LadderID = &ladderID
		d.LadderLower = ladder.LowerLimit
		d.LadderUpper = ladder.UpperLimit
		d.AdjustmentIntensity = ladder.AdjustmentIntensity
		d.WeightAfter = res.weight.Mul(ladder.AdjustmentIntensity)
		d.ValueAfter = workload.Mul(d.WeightAfter)
		d.IsAdjusted = !ladder.AdjustmentIntensity.Equal(one)
		d.Reason = fmt.Sprintf("%s %s in %s, intensity %s, weight %s -> %s",
			metricName(rule.Category), metric.String(), band(ladder), ladder.AdjustmentIntensity.String(),
			d.WeightBefore.String(), d.WeightAfter.String())

		res.weight = d.WeightAfter
		res.details = append(res.details, d)
		if policy == models.ComposeFirstMatch {
			break
		}
	}
	return res
}

// ruleMetric computes the value the rule's ladder is matched against and
// fills the actual/benchmark/ratio columns of d.
func ruleMetric(rule *models.OrientationRule, deptCode string, rules *store.RuleSet,
	d *models.OrientationAdjustmentDetail) (decimal.Decimal, string, bool) {

	actual, ok := rules.Values[rule.ID][deptCode]
	if !ok {
		return decimal.Decimal{}, "no actual value for department in period", false
	}
	d.ActualValue = decimal.NewNullDecimal(actual.ActualValue)

	switch rule.Category {
	case models.DirectLadder:
		return actual.ActualValue, "", true
	case models.BenchmarkLadder:
		bench, ok := rules.Benchmarks[rule.ID][deptCode]
		if !ok {
			return decimal.Decimal{}, "no benchmark for department", false
		}
		d.BenchmarkValue = decimal.NewNullDecimal(bench.BenchmarkValue)
		if bench.BenchmarkValue.IsZero() {
			return decimal.Decimal{}, "benchmark is zero, ratio undefined", false
		}
		ratio := actual.ActualValue.Div(bench.BenchmarkValue)
		d.OrientationRatio = decimal.NewNullDecimal(ratio)
		return ratio, "", true
	default:
		return decimal.Decimal{}, fmt.Sprintf("unknown rule category %q", rule.Category), false
	}
}

func metricName(c models.OrientationCategory) string {
	if c == models.BenchmarkLadder {
		return "ratio"
	}
	return "actual"
}

func band(l *models.OrientationLadder) string {
	lower, upper := "-inf", "+inf"
	if l.LowerLimit.Valid {
		lower = l.LowerLimit.Decimal.String()
	}
	if l.UpperLimit.Valid {
		upper = l.UpperLimit.Decimal.String()
	}
	return "[" + lower + ", " + upper + ")"
}
