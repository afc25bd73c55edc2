// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package crnn

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/lstm"
)

// BidirectionalLSTM holds the configuration of a bidirectional LSTM followed by a linear projection
// applied independently at every time step.
//
// It is created with NewBidirectionalLSTM and applied with Done.
type BidirectionalLSTM struct {
	ctx                    *context.Context
	sequence               *Node
	hiddenSize, outputSize int
	usePeephole            bool
}

// NewBidirectionalLSTM creates the configuration of a bidirectional LSTM unit over a time-major sequence
// shaped [time, batch, features].
//
// The LSTM has hiddenSize units in each direction, and the concatenated hidden states (forward first)
// are projected to outputSize features. Variables are created under ctx.In("lstm") and
// ctx.In("embedding").
func NewBidirectionalLSTM(ctx *context.Context, sequence *Node, hiddenSize, outputSize int) *BidirectionalLSTM {
	return &BidirectionalLSTM{
		ctx:        ctx,
		sequence:   sequence,
		hiddenSize: hiddenSize,
		outputSize: outputSize,
	}
}

// UsePeephole enables peephole connections in the LSTM cells. Default is false.
func (b *BidirectionalLSTM) UsePeephole(usePeephole bool) *BidirectionalLSTM {
	b.usePeephole = usePeephole
	return b
}

// Done builds the graph and returns the projected sequence shaped [time, batch, outputSize].
func (b *BidirectionalLSTM) Done() *Node {
	x := b.sequence
	if x.Rank() != 3 {
		Panicf("BidirectionalLSTM requires a sequence shaped [time, batch, features], got sequence.shape=%s",
			x.Shape())
	}
	if b.hiddenSize <= 0 || b.outputSize <= 0 {
		Panicf("BidirectionalLSTM requires positive hiddenSize and outputSize, got %d and %d",
			b.hiddenSize, b.outputSize)
	}
	seqLen, batchSize := x.Shape().Dim(0), x.Shape().Dim(1)

	// lstm works batch-major: [batch, time, features].
	x = TransposeAllAxes(x, 1, 0, 2)
	allHidden, _, _ := lstm.New(b.ctx.In("lstm"), x, b.hiddenSize).
		Direction(lstm.DirBidirectional).
		UsePeephole(b.usePeephole).
		Done()

	// allHidden is [time, 2, batch, hidden]: concatenate both directions at each time step.
	recurrent := TransposeAllAxes(allHidden, 0, 2, 1, 3)
	recurrent = Reshape(recurrent, seqLen, batchSize, 2*b.hiddenSize)

	output := layers.Dense(b.ctx.In("embedding"), FlattenTimeBatch(recurrent), true, b.outputSize)
	return UnflattenTimeBatch(output, seqLen, batchSize)
}

// FlattenTimeBatch merges the two leading axes of x, shaped [time, batch, features], into one.
// The element (t, b) goes to row t*batch+b.
func FlattenTimeBatch(x *Node) *Node {
	if x.Rank() != 3 {
		Panicf("FlattenTimeBatch requires x shaped [time, batch, features], got x.shape=%s", x.Shape())
	}
	dims := x.Shape().Dimensions
	return Reshape(x, dims[0]*dims[1], dims[2])
}

// UnflattenTimeBatch is the inverse of FlattenTimeBatch: it reshapes x, shaped [time*batch, features],
// back to [time, batch, features].
func UnflattenTimeBatch(x *Node, seqLen, batchSize int) *Node {
	if x.Rank() != 2 || x.Shape().Dim(0) != seqLen*batchSize {
		Panicf("UnflattenTimeBatch requires x shaped [%d*%d, features], got x.shape=%s",
			seqLen, batchSize, x.Shape())
	}
	return Reshape(x, seqLen, batchSize, x.Shape().Dim(1))
}
