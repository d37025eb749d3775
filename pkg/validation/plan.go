package validation

import (
	"fmt"
	"sort"
	"strings"
)

// PlanKey identifies one dispatch plan entry: n datasets jointly matched,
// groups of k handed to the metric function. 1 <= k <= n.
type PlanKey struct {
	N int
	K int
}

func (k PlanKey) String() string { return fmt.Sprintf("(%d,%d)", k.N, k.K) }

// ParsePlanKey reads the "n,k" form used in run configuration.
func ParsePlanKey(s string) (PlanKey, error) {
	var key PlanKey
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d,%d", &key.N, &key.K); err != nil {
		return PlanKey{}, fmt.Errorf("invalid plan key %q: %w", s, err)
	}
	return key, nil
}

// DispatchPlan maps plan entries to metric functions. Set once at
// Validator construction.
type DispatchPlan map[PlanKey]MetricFunc

// Validate rejects entries that can never dispatch: k outside [1, n] or
// n exceeding the configured dataset count.
func (p DispatchPlan) Validate(datasetCount int) error {
	if len(p) == 0 {
		return fmt.Errorf("dispatch plan is empty")
	}
	for key := range p {
		if key.K < 1 || key.K > key.N {
			return fmt.Errorf("plan entry %s: k must satisfy 1 <= k <= n", key)
		}
		if key.N > datasetCount {
			return fmt.Errorf("plan entry %s: only %d datasets configured", key, datasetCount)
		}
	}
	return nil
}

// Keys returns the plan entries sorted by n, then k. Dispatch follows
// this order, so when two entries enumerate the same combination key the
// later entry wins on every run, not whichever one map iteration yields
// last.
func (p DispatchPlan) Keys() []PlanKey {
	keys := make([]PlanKey, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].N != keys[j].N {
			return keys[i].N < keys[j].N
		}
		return keys[i].K < keys[j].K
	})
	return keys
}

// Combination is the canonical ordered tuple of dataset columns handed to
// one metric invocation: reference first if included, then declaration
// order, exactly one column per dataset.
type Combination []ColumnRef

// Key is the stable identifier the combination's results are reported
// under.
func (c Combination) Key() string {
	parts := make([]string, len(c))
	for i, r := range c {
		parts[i] = r.String()
	}
	return strings.Join(parts, "_and_")
}

// datasetColumns lists the selectable columns per dataset, in frame
// order: reference first, then the matched datasets.
type datasetColumns struct {
	Dataset string
	Columns []ColumnRef
}

// EnumerateCombinations produces all size-k combinations over the n
// matched datasets: choose k datasets preserving order, then one column
// from each. The enumeration order, and therefore every combination key,
// is deterministic.
func EnumerateCombinations(frame *Frame, k int) []Combination {
	var groups []datasetColumns
	for _, col := range frame.Columns {
		if len(groups) > 0 && groups[len(groups)-1].Dataset == col.Ref.Dataset {
			g := &groups[len(groups)-1]
			g.Columns = append(g.Columns, col.Ref)
			continue
		}
		groups = append(groups, datasetColumns{
			Dataset: col.Ref.Dataset,
			Columns: []ColumnRef{col.Ref},
		})
	}
	if k > len(groups) {
		return nil
	}

	var out []Combination
	chosen := make([]int, 0, k)
	var chooseDatasets func(start int)
	chooseDatasets = func(start int) {
		if len(chosen) == k {
			out = append(out, columnProduct(groups, chosen)...)
			return
		}
		for i := start; i <= len(groups)-(k-len(chosen)); i++ {
			chosen = append(chosen, i)
			chooseDatasets(i + 1)
			chosen = chosen[:len(chosen)-1]
		}
	}
	chooseDatasets(0)
	return out
}

// columnProduct expands one dataset choice into the cartesian product of
// the datasets' column lists.
func columnProduct(groups []datasetColumns, chosen []int) []Combination {
	combos := []Combination{nil}
	for _, gi := range chosen {
		var next []Combination
		for _, base := range combos {
			for _, col := range groups[gi].Columns {
				c := make(Combination, len(base), len(base)+1)
				copy(c, base)
				next = append(next, append(c, col))
			}
		}
		combos = next
	}
	return combos
}
