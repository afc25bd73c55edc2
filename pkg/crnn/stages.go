// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package crnn

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

// This file holds the stage descriptors of the convolutional feature extractor and the
// stages built from them.

// PoolStage describes a 2D max-pooling over the (height, width) axes.
type PoolStage struct {
	Window  [2]int
	Strides [2]int
	Padding [2][2]int
}

// ConvStage describes one convolution stage: convolution, optional batch normalization and activation,
// optionally followed by a max-pooling.
type ConvStage struct {
	KernelSize, Stride, Padding int

	// Channels is the number of output channels.
	Channels int

	// Normalize adds a batch normalization between the convolution and the activation.
	Normalize bool

	// CollapseHeight makes the kernel span the whole remaining height, so the output height is 1.
	// The kernel height equals KernelSize at the reference image height of 32.
	CollapseHeight bool

	// Pool, if not nil, is applied after the activation.
	Pool *PoolStage
}

var (
	// halvingPool halves both spatial axes.
	halvingPool = PoolStage{Window: [2]int{2, 2}, Strides: [2]int{2, 2}}

	// heightPool halves the height, while the width shrinks only by one (+1 with padding).
	heightPool = PoolStage{Window: [2]int{2, 2}, Strides: [2]int{2, 1}, Padding: [2][2]int{{0, 0}, {1, 1}}}

	defaultConvStages = [...]ConvStage{
		{KernelSize: 3, Stride: 1, Padding: 1, Channels: 64, Pool: &halvingPool},
		{KernelSize: 3, Stride: 1, Padding: 1, Channels: 128, Pool: &halvingPool},
		{KernelSize: 3, Stride: 1, Padding: 1, Channels: 256, Normalize: true},
		{KernelSize: 3, Stride: 1, Padding: 1, Channels: 256, Pool: &heightPool},
		{KernelSize: 3, Stride: 1, Padding: 1, Channels: 512, Normalize: true},
		{KernelSize: 3, Stride: 1, Padding: 1, Channels: 512, Pool: &heightPool},
		{KernelSize: 2, Stride: 1, Padding: 0, Channels: 512, CollapseHeight: true},
	}
)

// DefaultConvStages returns a copy of the convolution schedule of the CRNN feature extractor.
func DefaultConvStages() []ConvStage {
	stages := make([]ConvStage, len(defaultConvStages))
	copy(stages, defaultConvStages[:])
	return stages
}

// Stage is one step of the feature extractor. Images are shaped [batch, channels, height, width].
type Stage interface {
	fmt.Stringer

	// Name of the stage, also used as the context scope of its variables.
	Name() string

	// Apply builds the stage computation on x.
	Apply(ctx *context.Context, x *Node) *Node

	// OutputSize returns the spatial dimensions produced from an input of the given dimensions.
	// Non-positive values mean the input is too small.
	OutputSize(height, width int) (int, int)

	// OutputChannels returns the number of output channels given the number of input channels.
	OutputChannels(inputChannels int) int
}

// pooledSize is the usual output size of a window sliding over size, with the given stride and paddings.
func pooledSize(size, window, stride int, padding [2]int) int {
	padded := size + padding[0] + padding[1]
	if padded < window {
		return 0
	}
	return (padded-window)/stride + 1
}

type convStage struct {
	name          string
	index         int
	spec          ConvStage
	inputChannels int
	kernelHeight  int
	leakyRelu     bool
}

var _ Stage = (*convStage)(nil)

func (s *convStage) Name() string { return s.name }

func (s *convStage) String() string {
	spec := s.spec
	str := fmt.Sprintf("conv %dx%d stride %d pad %d -> %d", s.kernelHeight, spec.KernelSize,
		spec.Stride, spec.Padding, spec.Channels)
	if spec.Normalize {
		str += ", batchnorm"
	}
	if s.leakyRelu {
		return str + fmt.Sprintf(", leaky_relu(%g)", LeakyReluAlpha)
	}
	return str + ", relu"
}

func (s *convStage) OutputSize(height, width int) (int, int) {
	spec := s.spec
	pad := [2]int{spec.Padding, spec.Padding}
	return pooledSize(height, s.kernelHeight, spec.Stride, pad), pooledSize(width, spec.KernelSize, spec.Stride, pad)
}

func (s *convStage) OutputChannels(int) int { return s.spec.Channels }

func (s *convStage) Apply(ctx *context.Context, x *Node) *Node {
	spec := s.spec
	if x.Shape().Dim(1) != s.inputChannels {
		Panicf("%s expects %d input channels, got x.shape=%s", s.name, s.inputChannels, x.Shape())
	}

	conv := layers.Convolution(ctx.In(s.name), x).
		CurrentScope().
		Filters(spec.Channels).
		KernelSizePerAxis(s.kernelHeight, spec.KernelSize).
		ChannelsAxis(images.ChannelsFirst).
		StridePerAxis(spec.Stride, spec.Stride)
	switch {
	case spec.Padding == 0:
		conv.NoPadding()
	case spec.Stride == 1 && 2*spec.Padding == spec.KernelSize-1 && 2*spec.Padding == s.kernelHeight-1:
		conv.PadSame()
	default:
		Panicf("%s: padding %d is neither 0 nor \"same\" for kernel %dx%d and stride %d",
			s.name, spec.Padding, s.kernelHeight, spec.KernelSize, spec.Stride)
	}
	x = conv.Done()

	if spec.Normalize {
		// Momentum and epsilon equivalent to the PyTorch BatchNorm2d defaults.
		x = batchnorm.New(ctx.Inf("batchnorm%d", s.index), x, 1).
			Momentum(0.9).
			Epsilon(1e-5).
			UseBackendInference(false).
			Done()
	}
	if s.leakyRelu {
		return activations.LeakyReluWithAlpha(x, LeakyReluAlpha)
	}
	return activations.Relu(x)
}

type poolStage struct {
	name string
	spec PoolStage
}

var _ Stage = (*poolStage)(nil)

func (s *poolStage) Name() string { return s.name }

func (s *poolStage) String() string {
	spec := s.spec
	return fmt.Sprintf("max-pool %dx%d stride %dx%d pad %v", spec.Window[0], spec.Window[1],
		spec.Strides[0], spec.Strides[1], spec.Padding)
}

func (s *poolStage) OutputSize(height, width int) (int, int) {
	spec := s.spec
	return pooledSize(height, spec.Window[0], spec.Strides[0], spec.Padding[0]),
		pooledSize(width, spec.Window[1], spec.Strides[1], spec.Padding[1])
}

func (s *poolStage) OutputChannels(inputChannels int) int { return inputChannels }

func (s *poolStage) Apply(_ *context.Context, x *Node) *Node {
	spec := s.spec
	return MaxPool(x).
		ChannelsAxis(images.ChannelsFirst).
		WindowPerAxis(spec.Window[0], spec.Window[1]).
		StridePerAxis(spec.Strides[0], spec.Strides[1]).
		PaddingPerDim([][2]int{spec.Padding[0], spec.Padding[1]}).
		Done()
}
