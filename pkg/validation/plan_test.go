package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeDatasetFrame() *Frame {
	return &Frame{
		Columns: []FrameColumn{
			{Label: "ref", Ref: ColumnRef{Dataset: "ismn", Column: "sm"}},
			{Label: "k1", Ref: ColumnRef{Dataset: "ascat", Column: "sm"}},
			{Label: "k2", Ref: ColumnRef{Dataset: "amsr", Column: "sm"}},
		},
	}
}

func TestEnumerate32(t *testing.T) {
	combos := EnumerateCombinations(threeDatasetFrame(), 2)
	require.Len(t, combos, 3)

	keys := make([]string, len(combos))
	for i, c := range combos {
		keys[i] = c.Key()
	}
	assert.Equal(t, []string{
		"ismn.sm_and_ascat.sm",
		"ismn.sm_and_amsr.sm",
		"ascat.sm_and_amsr.sm",
	}, keys)
}

func TestEnumerateDeterministic(t *testing.T) {
	a := EnumerateCombinations(threeDatasetFrame(), 2)
	b := EnumerateCombinations(threeDatasetFrame(), 2)
	assert.Equal(t, a, b)
}

func TestEnumerateFullGroup(t *testing.T) {
	combos := EnumerateCombinations(threeDatasetFrame(), 3)
	require.Len(t, combos, 1)
	// Canonical ordering: reference first, then declaration order.
	assert.Equal(t, "ismn.sm_and_ascat.sm_and_amsr.sm", combos[0].Key())
}

func TestEnumerateMultiColumnDataset(t *testing.T) {
	frame := &Frame{
		Columns: []FrameColumn{
			{Label: "ref", Ref: ColumnRef{Dataset: "ismn", Column: "sm"}},
			{Label: "k1", Ref: ColumnRef{Dataset: "era", Column: "sm"}},
			{Label: "k1", Ref: ColumnRef{Dataset: "era", Column: "sm_rz"}},
		},
	}
	combos := EnumerateCombinations(frame, 2)
	// One column per dataset: (ismn.sm, era.sm) and (ismn.sm, era.sm_rz).
	require.Len(t, combos, 2)
	assert.Equal(t, "ismn.sm_and_era.sm", combos[0].Key())
	assert.Equal(t, "ismn.sm_and_era.sm_rz", combos[1].Key())
}

func TestEnumerateKTooLarge(t *testing.T) {
	assert.Nil(t, EnumerateCombinations(threeDatasetFrame(), 4))
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    DispatchPlan
		count   int
		wantErr bool
	}{
		{"valid", DispatchPlan{{2, 2}: PairwiseBasic}, 2, false},
		{"k greater than n", DispatchPlan{{2, 3}: PairwiseBasic}, 3, true},
		{"k zero", DispatchPlan{{2, 0}: PairwiseBasic}, 2, true},
		{"n exceeds datasets", DispatchPlan{{3, 2}: PairwiseBasic}, 2, true},
		{"empty", DispatchPlan{}, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate(tt.count)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestPlanKeysSorted(t *testing.T) {
	plan := DispatchPlan{
		{3, 2}: PairwiseBasic,
		{2, 2}: PairwiseBasic,
		{3, 3}: TcolMetrics,
		{2, 1}: PairwiseBasic,
	}
	want := []PlanKey{{2, 1}, {2, 2}, {3, 2}, {3, 3}}
	for i := 0; i < 10; i++ {
		assert.Equal(t, want, plan.Keys())
	}
}

func TestParsePlanKey(t *testing.T) {
	key, err := ParsePlanKey("3,2")
	require.NoError(t, err)
	assert.Equal(t, PlanKey{N: 3, K: 2}, key)

	_, err = ParsePlanKey("banana")
	require.Error(t, err)
}
