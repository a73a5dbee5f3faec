package counters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrecedence(t *testing.T) {
	n, err := ParseExpression("1+2*GRBM_COUNT")
	require.NoError(t, err)
	require.Equal(t, NodeAddition, n.Kind)
	assert.Equal(t, NodeNumber, n.Children[0].Kind)
	mul := n.Children[1]
	assert.Equal(t, NodeMultiply, mul.Kind)
	name, ok := mul.Children[1].Value.Str()
	assert.True(t, ok)
	assert.Equal(t, "GRBM_COUNT", name)
}

func TestParseLeftAssociative(t *testing.T) {
	n, err := ParseExpression("A/B/C")
	require.NoError(t, err)
	require.Equal(t, NodeDivide, n.Kind)
	assert.Equal(t, NodeDivide, n.Children[0].Kind)
	assert.Equal(t, NodeReference, n.Children[1].Kind)
}

func TestParseReduce(t *testing.T) {
	n, err := ParseExpression("reduce(SQ_WAVES, sum, [SE, XCC])")
	require.NoError(t, err)
	assert.Equal(t, NodeReduce, n.Kind)
	assert.Equal(t, ReduceSum, n.ReduceOp)
	assert.Equal(t, NewDimensionSet(DimensionShaderEngine, DimensionXCC), n.ReduceDimensions)

	n, err = ParseExpression("reduce(SQ_WAVES,MAX)")
	require.NoError(t, err)
	assert.True(t, n.ReduceDimensions.Empty())
}

func TestParseSelectAndRange(t *testing.T) {
	n, err := ParseExpression("select(SQ_WAVES,[SE=1:3,XCC=0])")
	require.NoError(t, err)
	assert.Equal(t, NodeSelect, n.Kind)
	assert.Equal(t, map[Dimension]string{DimensionShaderEngine: "1:3", DimensionXCC: "0"}, n.SelectDimensions)

	n, err = ParseExpression("TCC_HIT[0:15]")
	require.NoError(t, err)
	require.NotNil(t, n.Range)
	sel, _ := n.Range.Value.Str()
	assert.Equal(t, "0:15", sel)
}

func TestParseAccumulate(t *testing.T) {
	n, err := ParseExpression("accumulate(SQ_LEVEL_WAVES,LOW_RES)")
	require.NoError(t, err)
	assert.Equal(t, NodeAccumulate, n.Kind)
	assert.Equal(t, AccumulateLowResolution, n.AccumulateOp)
}

func TestParseErrors(t *testing.T) {
	_, err := ParseExpression("reduce(SQ_WAVES,MEDIAN)")
	assert.ErrorIs(t, err, ErrUnknownReduceOp)

	_, err = ParseExpression("reduce(SQ_WAVES,SUM,[GALAXY])")
	assert.ErrorIs(t, err, ErrUnknownDimension)

	_, err = ParseExpression("TCC_HIT[5:2]")
	assert.ErrorIs(t, err, ErrBadSelector)

	_, err = ParseExpression("accumulate(SQ_LEVEL_WAVES,MID_RES)")
	assert.ErrorIs(t, err, ErrUnknownAccumulateOp)

	_, err = ParseExpression("1 +")
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	n, err := ParseExpression("reduce(select(SQ_WAVES,[SE=0]),SUM)+TCC_HIT[1]")
	require.NoError(t, err)
	c := n.Clone()
	assert.Equal(t, n.String(), c.String())

	c.Children[0].Children[0].SelectDimensions[DimensionShaderEngine] = "2"
	c.Children[1].Range.Value = StringValue("3")
	assert.NotEqual(t, n.String(), c.String())
	assert.Equal(t, "0", n.Children[0].Children[0].SelectDimensions[DimensionShaderEngine])
}

func TestWalkVisitsRange(t *testing.T) {
	n, err := ParseExpression("TCC_HIT[1]*2")
	require.NoError(t, err)
	var kinds []NodeKind
	n.Walk(func(x *Node) { kinds = append(kinds, x.Kind) })
	assert.ElementsMatch(t, []NodeKind{NodeMultiply, NodeReference, NodeRange, NodeNumber}, kinds)
}

func TestNewBinaryNodeRejectsNonArithmetic(t *testing.T) {
	_, err := NewBinaryNode(NodeReduce, NewNumberNode(1), NewNumberNode(2))
	assert.ErrorIs(t, err, ErrMalformedNode)
	_, err = NewBinaryNode(NodeAddition, nil, NewNumberNode(2))
	assert.ErrorIs(t, err, ErrMalformedNode)
}
