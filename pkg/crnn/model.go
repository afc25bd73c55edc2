// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package crnn

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MinImageWidth is the narrowest image the pooling schedule accepts: narrower images yield an empty sequence.
const MinImageWidth = 4

// Model is a CRNN: a convolutional feature extractor followed by two bidirectional LSTM units and a
// log-softmax over the classes.
//
// Model holds no variables: those live in the context.Context passed to Apply. It is immutable after
// construction and can be shared.
type Model struct {
	cfg       Config
	extractor *FeatureExtractor
}

// New validates cfg and creates the model.
// It returns an error wrapping ErrInvalidConfig if the configuration is not supported.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Model{
		cfg:       cfg,
		extractor: NewFeatureExtractor(cfg),
	}
	klog.V(1).Infof("CRNN model: height=%d, channels=%d, classes=%d, hidden=%d, leakyRelu=%v",
		cfg.ImageHeight, cfg.NumChannels, cfg.NumClasses, cfg.HiddenSize, cfg.LeakyRelu)
	return m, nil
}

// Must is like New, but panics on error.
func Must(cfg Config) *Model {
	m, err := New(cfg)
	if err != nil {
		Panicf("failed to create CRNN model: %+v", err)
	}
	return m
}

// Config used to create the model.
func (m *Model) Config() Config {
	return m.cfg
}

// FeatureExtractor returns the convolutional part of the model.
func (m *Model) FeatureExtractor() *FeatureExtractor {
	return m.extractor
}

// SequenceLength returns the length of the output sequence for images of the given width,
// or 0 if the width is smaller than MinImageWidth.
func (m *Model) SequenceLength(width int) int {
	_, seqLen := m.extractor.OutputSize(m.cfg.ImageHeight, width)
	return seqLen
}

// OutputShape returns the shape of the output of Apply for a batch of images of the given width:
// [sequenceLength, batchSize, numClasses].
func (m *Model) OutputShape(batchSize, width int) (shapes.Shape, error) {
	if batchSize <= 0 {
		return shapes.Shape{}, errors.Errorf("batch size must be > 0, got %d", batchSize)
	}
	seqLen := m.SequenceLength(width)
	if seqLen <= 0 {
		return shapes.Shape{}, errors.Errorf("image width %d is too narrow, the minimum is %d", width, MinImageWidth)
	}
	return shapes.Make(m.cfg.DType, seqLen, batchSize, m.cfg.NumClasses), nil
}

// Apply builds the CRNN graph over images shaped [batch, channels, height, width] and returns
// the log-probabilities of each class, shaped [sequenceLength, batch, numClasses] (time-major).
//
// The variables of the convolutions are created under ctx.In("cnn") and the ones of the recurrent
// units under ctx.In("rnn").
//
// It panics if images don't match the configuration.
func (m *Model) Apply(ctx *context.Context, images *Node) *Node {
	if images.DType() != m.cfg.DType {
		Panicf("CRNN configured for dtype %s, got images.shape=%s", m.cfg.DType, images.Shape())
	}
	features := m.extractor.Apply(ctx.In("cnn"), images) // [batch, channels, 1, width]
	if features.Shape().Dim(2) != 1 {
		Panicf("CRNN feature height must be 1, got features.shape=%s", features.Shape())
	}

	// Time-major sequence: [width, batch, channels].
	sequence := Squeeze(features, 2)
	sequence = TransposeAllAxes(sequence, 2, 0, 1)

	rnnCtx := ctx.In("rnn")
	hidden := NewBidirectionalLSTM(rnnCtx.In("bilstm0"), sequence, m.cfg.HiddenSize, m.cfg.HiddenSize).Done()
	logits := NewBidirectionalLSTM(rnnCtx.In("bilstm1"), hidden, m.cfg.HiddenSize, m.cfg.NumClasses).Done()
	return LogProbabilities(logits, -1)
}

// ModelGraph adapts Apply to the model function signature used by the training loop in
// github.com/gomlx/gomlx/pkg/ml/train: inputs[0] must be the images.
func (m *Model) ModelGraph(ctx *context.Context, _ any, inputs []*Node) []*Node {
	if len(inputs) == 0 {
		Panicf("CRNN model requires the images as its first input, got no inputs")
	}
	return []*Node{m.Apply(ctx, inputs[0])}
}

// LogProbabilities returns the log-softmax of logits over axis, that is, log-probabilities whose
// exponentials sum to 1 along axis.
func LogProbabilities(logits *Node, axis int) *Node {
	if !logits.DType().IsFloat() {
		Panicf("LogProbabilities requires float logits, got logits.shape=%s", logits.Shape())
	}
	return LogSoftmax(logits, axis)
}
