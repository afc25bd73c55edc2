// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package crnn

import (
	"math"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

var (
	nan32    = float32(math.NaN())
	posInf32 = float32(math.Inf(1))
	negInf32 = float32(math.Inf(-1))
)

func TestSanitizeGradient(t *testing.T) {
	backend := newTestBackend(t)
	exec := context.MustNewExec(backend, context.New(), func(ctx *context.Context, g *Graph) []*Node {
		grads := []*Node{
			Const(g, []float32{1, nan32, posInf32, negInf32, -2}),
			Const(g, [][]float64{{math.NaN(), 3}, {0, math.Inf(1)}}),
			Const(g, []int32{1, 2}),
		}
		return SanitizeGradients(grads)
	})
	outputs := exec.MustExec()
	require.Len(t, outputs, 3)
	assert.Equal(t, []float32{1, 0, 0, 0, -2}, outputs[0].Value())
	assert.Equal(t, [][]float64{{0, 3}, {0, 0}}, outputs[1].Value())
	assert.Equal(t, []int32{1, 2}, outputs[2].Value())
	assert.Nil(t, SanitizeGradient(nil))
}

func TestSanitizeTensor(t *testing.T) {
	t.Run("float32", func(t *testing.T) {
		grad := tensors.FromValue([]float32{1, nan32, posInf32, negInf32, -2})
		replaced, err := SanitizeTensor(grad)
		require.NoError(t, err)
		assert.Equal(t, 3, replaced)
		assert.Equal(t, []float32{1, 0, 0, 0, -2}, grad.Value())
	})
	t.Run("float64", func(t *testing.T) {
		grad := tensors.FromValue([][]float64{{0.5, math.NaN()}, {math.Inf(-1), 7}})
		replaced, err := SanitizeTensor(grad)
		require.NoError(t, err)
		assert.Equal(t, 2, replaced)
		assert.Equal(t, [][]float64{{0.5, 0}, {0, 7}}, grad.Value())
	})
	t.Run("float16", func(t *testing.T) {
		data := []float16.Float16{
			float16.Fromfloat32(1.5), float16.NaN(), float16.Inf(1), float16.Fromfloat32(-3)}
		grad := tensors.FromFlatDataAndDimensions(data, len(data))
		replaced, err := SanitizeTensor(grad)
		require.NoError(t, err)
		assert.Equal(t, 2, replaced)
		got := grad.Value().([]float16.Float16)
		assert.Equal(t, []float32{1.5, 0, 0, -3},
			[]float32{got[0].Float32(), got[1].Float32(), got[2].Float32(), got[3].Float32()})
	})
	t.Run("bfloat16", func(t *testing.T) {
		data := []bfloat16.BFloat16{
			bfloat16.FromFloat32(2), bfloat16.Inf(-1), bfloat16.FromFloat32(nan32)}
		grad := tensors.FromFlatDataAndDimensions(data, len(data))
		replaced, err := SanitizeTensor(grad)
		require.NoError(t, err)
		assert.Equal(t, 2, replaced)
		got := grad.Value().([]bfloat16.BFloat16)
		assert.Equal(t, []float32{2, 0, 0}, []float32{got[0].Float32(), got[1].Float32(), got[2].Float32()})
	})
	t.Run("int32", func(t *testing.T) {
		_, err := SanitizeTensor(tensors.FromValue([]int32{1, 2}))
		require.Error(t, err)
	})
}

// noGradientsOptimizer only implements optimizers.Interface.
type noGradientsOptimizer struct{}

func (noGradientsOptimizer) UpdateGraph(*context.Context, *Graph, *Node) {}
func (noGradientsOptimizer) Clear(*context.Context) error { return nil }

func TestWithGradientSanitizer(t *testing.T) {
	_, err := WithGradientSanitizer(nil)
	require.Error(t, err)
	_, err = WithGradientSanitizer(noGradientsOptimizer{})
	require.Error(t, err)

	backend := newTestBackend(t)
	ctx := context.New()
	v := ctx.VariableWithValue("v", []float32{1, 2, 3})
	opt, err := WithGradientSanitizer(
		optimizers.StochasticGradientDescent().WithDecay(false).WithLearningRate(0.1).Done())
	require.NoError(t, err)

	// The gradient of the loss with respect to v is [1, NaN, +Inf].
	_ = context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		factors := Const(g, []float32{1, nan32, posInf32})
		loss := ReduceAllSum(Mul(v.ValueGraph(g), factors))
		opt.UpdateGraph(ctx, g, loss)
		return loss
	})
	got := v.MustValue().Value().([]float32)
	assert.InDeltaSlice(t, []float32{0.9, 2, 3}, got, 1e-6)
	require.NoError(t, opt.Clear(ctx))
}

func TestWithGradientSanitizerAdam(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.New()
	v := ctx.VariableWithValue("v", []float32{1, 2})
	opt, err := WithGradientSanitizer(optimizers.Adam().Done())
	require.NoError(t, err)
	_ = context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		loss := ReduceAllSum(Mul(v.ValueGraph(g), Const(g, []float32{1, nan32})))
		opt.UpdateGraph(ctx, g, loss)
		return loss
	})
	got := v.MustValue().Value().([]float32)
	assert.Less(t, got[0], float32(1))
	assert.Equal(t, float32(2), got[1])
}
