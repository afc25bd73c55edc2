// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package crnn

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenTimeBatch(t *testing.T) {
	backend := newTestBackend(t)
	const seqLen, batchSize, features = 3, 2, 4
	exec := context.MustNewExec(backend, context.New(), func(ctx *context.Context, g *Graph) []*Node {
		x := Iota(g, shapes.Make(dtypes.Float32, seqLen*batchSize*features), 0)
		x = Reshape(x, seqLen, batchSize, features)
		flat := FlattenTimeBatch(x)
		return []*Node{x, flat, UnflattenTimeBatch(flat, seqLen, batchSize)}
	})
	outputs := exec.MustExec()
	x := outputs[0].Value().([][][]float32)
	flat := outputs[1].Value().([][]float32)
	restored := outputs[2].Value().([][][]float32)
	require.Len(t, flat, seqLen*batchSize)
	for tIdx := range seqLen {
		for bIdx := range batchSize {
			assert.Equal(t, x[tIdx][bIdx], flat[tIdx*batchSize+bIdx])
		}
	}
	assert.Equal(t, x, restored)
}

func TestBidirectionalLSTM(t *testing.T) {
	backend := newTestBackend(t)
	const seqLen, batchSize, features, hiddenSize, outputSize = 5, 2, 3, 4, 6
	ctx := context.New()
	output := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		x := IotaFull(g, shapes.Make(dtypes.Float32, seqLen, batchSize, features))
		x = MulScalar(x, 0.01)
		return NewBidirectionalLSTM(ctx.In("bilstm"), x, hiddenSize, outputSize).Done()
	})
	require.NoError(t, output.Shape().Check(dtypes.Float32, seqLen, batchSize, outputSize))

	inputsW := ctx.InspectVariable("/bilstm/lstm", "inputsW")
	require.NotNil(t, inputsW)
	assert.Equal(t, []int{2, 4, hiddenSize, features}, inputsW.Shape().Dimensions)
	weights := ctx.InspectVariable("/bilstm/embedding/dense", "weights")
	require.NotNil(t, weights)
	assert.Equal(t, []int{2 * hiddenSize, outputSize}, weights.Shape().Dimensions)
	require.NotNil(t, ctx.InspectVariable("/bilstm/embedding/dense", "biases"))
}

func TestBidirectionalLSTMInvalid(t *testing.T) {
	backend := newTestBackend(t)
	require.Panics(t, func() {
		_ = context.MustExecOnce(backend, context.New(), func(ctx *context.Context, g *Graph) *Node {
			x := Ones(g, shapes.Make(dtypes.Float32, 5, 3))
			return NewBidirectionalLSTM(ctx, x, 4, 4).Done()
		})
	})
	require.Panics(t, func() {
		_ = context.MustExecOnce(backend, context.New(), func(ctx *context.Context, g *Graph) *Node {
			x := Ones(g, shapes.Make(dtypes.Float32, 5, 2, 3))
			return UnflattenTimeBatch(FlattenTimeBatch(x), 4, 2)
		})
	})
}

// TestBidirectionalLSTMContext checks that the output at every timestep depends on both the
// first and the last inputs of the sequence.
func TestBidirectionalLSTMContext(t *testing.T) {
	backend := newTestBackend(t)
	const seqLen, batchSize, features, hiddenSize, outputSize = 4, 1, 3, 4, 2
	exec := context.MustNewExec(backend, context.New(), func(ctx *context.Context, x *Node) *Node {
		return NewBidirectionalLSTM(ctx.In("bilstm"), x, hiddenSize, outputSize).Done()
	})
	sequence := func(changedStep int) *tensors.Tensor {
		data := make([]float32, seqLen*batchSize*features)
		for ii := range data {
			data[ii] = 0.1 * float32(ii%5)
		}
		if changedStep >= 0 {
			for ii := range batchSize * features {
				data[changedStep*batchSize*features+ii] += 1
			}
		}
		return tensors.FromFlatDataAndDimensions(data, seqLen, batchSize, features)
	}
	run := func(changedStep int) [][][]float32 {
		return exec.MustExec(sequence(changedStep))[0].Value().([][][]float32)
	}
	base := run(-1)
	lastChanged := run(seqLen - 1)
	firstChanged := run(0)

	// The first output sees the future through the backward direction.
	assert.NotEqual(t, base[0], lastChanged[0])
	// The last output sees the past through the forward direction.
	assert.NotEqual(t, base[seqLen-1], firstChanged[seqLen-1])
	// Same inputs, same outputs.
	assert.Equal(t, base, run(-1))
}
