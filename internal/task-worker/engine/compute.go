package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"value-calculation-service/internal/models"
	"value-calculation-service/internal/scoring"
	"value-calculation-service/internal/store"
)

// Input is everything Compute needs; it performs no I/O.
type Input struct {
	TaskID        string
	Tree          *scoring.Tree
	Departments   []models.Department
	Workload      map[Key]decimal.Decimal
	Rules         *store.RuleSet
	DefaultPolicy models.CompositionPolicy
	Now           time.Time
}

type Output struct {
	Results   []models.CalculationResult
	Details   []models.OrientationAdjustmentDetail
	Summaries []models.CalculationSummary
}

// Compute values every node for every department:
//
//	leaf:      value = workload * weight, weight = original weight after orientation
//	non-leaf:  value = sum of children; workload and weights stay null
//	ratio:     value / parent value, roots use the department total;
//	           null when the denominator is zero
//
// All arithmetic is decimal and nothing is rounded.
func Compute(in Input) (*Output, error) {
	if in.Tree == nil {
		return nil, fmt.Errorf("compute task %s: no scoring tree", in.TaskID)
	}
	for k := range in.Workload {
		n, ok := in.Tree.Node(k.NodeID)
		if !ok {
			return nil, fmt.Errorf("workload references unknown node %d", k.NodeID)
		}
		if !n.IsLeaf {
			return nil, fmt.Errorf("workload staged for non-leaf node %s", n.Code)
		}
	}

	out := &Output{}
	order := in.Tree.PostOrder()
	for _, dept := range in.Departments {
		values := make(map[uint]decimal.Decimal, len(order))
		rows := make(map[uint]*models.CalculationResult, len(order))

		for _, id := range order {
			node, _ := in.Tree.Node(id)
			row := &models.CalculationResult{
				TaskID:         in.TaskID,
				NodeID:         node.ID,
				DepartmentID:   dept.ID,
				DepartmentCode: dept.Code,
				NodeType:       node.NodeType,
				NodeName:       node.Name,
				NodeCode:       node.Code,
				ParentID:       node.ParentID,
				CreatedAt:      in.Now,
			}

			if node.IsLeaf {
				workload := in.Workload[Key{NodeID: id, DepartmentID: dept.ID}]
				policy := node.OrientationPolicy
				if policy == "" {
					policy = in.DefaultPolicy
				}
				adj := orient(node, dept, workload, in.Rules, policy)
				for i := range adj.details {
					adj.details[i].TaskID = in.TaskID
					adj.details[i].CreatedAt = in.Now
				}
				out.Details = append(out.Details, adj.details...)

				row.Workload = decimal.NewNullDecimal(workload)
				row.OriginalWeight = node.Weight
				row.Weight = decimal.NewNullDecimal(adj.weight)
				row.Value = workload.Mul(adj.weight)
			} else {
				sum := decimal.Zero
				for _, c := range in.Tree.Children(id) {
					sum = sum.Add(values[c])
				}
				row.Value = sum
			}
			values[id] = row.Value
			rows[id] = row
		}

		total := decimal.Zero
		for _, r := range in.Tree.Roots() {
			total = total.Add(values[r])
		}
		for _, id := range order {
			row := rows[id]
			denom := total
			if row.ParentID != nil {
				denom = values[*row.ParentID]
			}
			if !denom.IsZero() {
				row.Ratio = decimal.NewNullDecimal(row.Value.Div(denom))
			}
			out.Results = append(out.Results, *row)
		}
	}
	out.Summaries = Summaries(in.TaskID, out.Results, in.Now)
	return out, nil
}

// Summaries builds one row per department from the root rows of a result
// set: the department total and each root's value and share.
func Summaries(taskID string, results []models.CalculationResult, now time.Time) []models.CalculationSummary {
	var out []models.CalculationSummary
	index := make(map[uint]int)
	for _, r := range results {
		if r.ParentID != nil {
			continue
		}
		i, ok := index[r.DepartmentID]
		if !ok {
			i = len(out)
			index[r.DepartmentID] = i
			out = append(out, models.CalculationSummary{
				TaskID:         taskID,
				DepartmentID:   r.DepartmentID,
				DepartmentCode: r.DepartmentCode,
				TotalValue:     decimal.Zero,
				CreatedAt:      now,
			})
		}
		out[i].TotalValue = out[i].TotalValue.Add(r.Value)
		out[i].Sequences = append(out[i].Sequences, models.SequenceShare{
			NodeID: r.NodeID, Code: r.NodeCode, Name: r.NodeName, Value: r.Value,
		})
	}
	for i := range out {
		if out[i].TotalValue.IsZero() {
			continue
		}
		for j := range out[i].Sequences {
			ratio := out[i].Sequences[j].Value.Div(out[i].TotalValue)
			out[i].Sequences[j].Ratio = &ratio
		}
	}
	return out
}
