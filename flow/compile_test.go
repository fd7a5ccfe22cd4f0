package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_LinearFlow(t *testing.T) {
	def := &Definition{
		Next: []*StepDefinition{
			{
				Action: "reserveInventory",
				Next: []*StepDefinition{
					{Action: "chargeCard"},
				},
			},
		},
	}

	dag, err := Compile(def)
	require.NoError(t, err)
	require.Len(t, dag.Nodes, 2)

	root, ok := dag.IndexOf("reserveInventory")
	require.True(t, ok)
	assert.Equal(t, 0, root)
	assert.True(t, dag.Nodes[root].IsRoot())

	child, ok := dag.IndexOf("chargeCard")
	require.True(t, ok)
	assert.Equal(t, 1, child)
	assert.Equal(t, root, dag.Nodes[child].ParentIndex)
	assert.Equal(t, []int{child}, dag.Nodes[root].ChildIndices)
	assert.Empty(t, dag.Nodes[child].SiblingIndices)
}

func TestCompile_BreadthFirstIndexOrder(t *testing.T) {
	// Two parallel roots, each with one child. BFS assigns indices
	// 0,1 to the roots and 2,3 to their children, not depth-first
	// (which would interleave 0,1,2 then 3).
	def := &Definition{
		Next: []*StepDefinition{
			{Action: "a", Next: []*StepDefinition{{Action: "a1"}}},
			{Action: "b", Next: []*StepDefinition{{Action: "b1"}}},
		},
	}

	dag, err := Compile(def)
	require.NoError(t, err)
	require.Len(t, dag.Nodes, 4)

	a, _ := dag.IndexOf("a")
	b, _ := dag.IndexOf("b")
	a1, _ := dag.IndexOf("a1")
	b1, _ := dag.IndexOf("b1")

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, 2, a1)
	assert.Equal(t, 3, b1)

	assert.ElementsMatch(t, []int{a, b}, dag.RootIndices)
	assert.ElementsMatch(t, []int{b}, dag.Nodes[a].SiblingIndices)
	assert.ElementsMatch(t, []int{a}, dag.Nodes[b].SiblingIndices)
}

func TestCompile_DefaultAndExplicitMaxRetries(t *testing.T) {
	def := &Definition{
		Next: []*StepDefinition{
			{Action: "usesDefault"},
			{Action: "noRetries", MaxRetries: Retries(0)},
			{Action: "fiveRetries", MaxRetries: Retries(5)},
		},
	}

	dag, err := Compile(def)
	require.NoError(t, err)

	idx, _ := dag.IndexOf("usesDefault")
	assert.Equal(t, DefaultMaxRetries, dag.Nodes[idx].MaxRetries)

	idx, _ = dag.IndexOf("noRetries")
	assert.Equal(t, 0, dag.Nodes[idx].MaxRetries)

	idx, _ = dag.IndexOf("fiveRetries")
	assert.Equal(t, 5, dag.Nodes[idx].MaxRetries)
}

func TestCompile_DuplicateAction(t *testing.T) {
	def := &Definition{
		Next: []*StepDefinition{
			{Action: "step1", Next: []*StepDefinition{
				{Action: "step2"},
			}},
			{Action: "step2"},
		},
	}

	_, err := Compile(def)
	require.Error(t, err)
	var invalid InvalidFlowError
	require.ErrorAs(t, err, &invalid)
}

func TestCompile_EmptyDefinitionIsInvalid(t *testing.T) {
	_, err := Compile(&Definition{})
	require.Error(t, err)

	_, err = Compile(nil)
	require.Error(t, err)
}

func TestCompile_SiblingSetExcludesSelf(t *testing.T) {
	def := &Definition{
		Next: []*StepDefinition{
			{Action: "x", Next: []*StepDefinition{
				{Action: "y1"},
				{Action: "y2"},
				{Action: "y3"},
			}},
		},
	}

	dag, err := Compile(def)
	require.NoError(t, err)

	y1, _ := dag.IndexOf("y1")
	y2, _ := dag.IndexOf("y2")
	y3, _ := dag.IndexOf("y3")

	assert.ElementsMatch(t, []int{y2, y3}, dag.Nodes[y1].SiblingIndices)
	assert.ElementsMatch(t, []int{y1, y3}, dag.Nodes[y2].SiblingIndices)
	assert.ElementsMatch(t, []int{y1, y2}, dag.Nodes[y3].SiblingIndices)
}
