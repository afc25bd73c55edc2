// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package crnn

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"k8s.io/klog/v2"
)

// FeatureExtractor is the convolutional part of the CRNN: an ordered list of stages that reduces images
// shaped [batch, channels, height, width] to feature maps of height 1, whose width is the sequence axis.
type FeatureExtractor struct {
	imageHeight, numChannels int
	stages                   []Stage
}

// NewFeatureExtractor builds the stages of the feature extractor from DefaultConvStages.
// The configuration is assumed to be valid, see Config.Validate.
func NewFeatureExtractor(cfg Config) *FeatureExtractor {
	fe := &FeatureExtractor{
		imageHeight: cfg.ImageHeight,
		numChannels: cfg.NumChannels,
	}
	height := cfg.ImageHeight
	inputChannels := cfg.NumChannels
	poolIdx := 0
	for ii, spec := range DefaultConvStages() {
		kernelHeight := spec.KernelSize
		if spec.CollapseHeight {
			kernelHeight = height + 2*spec.Padding
		}
		conv := &convStage{
			name:          fmt.Sprintf("conv%d", ii),
			index:         ii,
			spec:          spec,
			inputChannels: inputChannels,
			kernelHeight:  kernelHeight,
			leakyRelu:     cfg.LeakyRelu,
		}
		fe.stages = append(fe.stages, conv)
		height, _ = conv.OutputSize(height, 0)
		inputChannels = spec.Channels
		if spec.Pool != nil {
			pool := &poolStage{name: fmt.Sprintf("pooling%d", poolIdx), spec: *spec.Pool}
			fe.stages = append(fe.stages, pool)
			height, _ = pool.OutputSize(height, 0)
			poolIdx++
		}
	}
	klog.V(1).Infof("CRNN feature extractor for height %d: %d stages, output height %d",
		cfg.ImageHeight, len(fe.stages), height)
	return fe
}

// Stages returns the ordered list of stages.
func (fe *FeatureExtractor) Stages() []Stage {
	return fe.stages
}

// OutputChannels is the number of channels of the extracted features.
func (fe *FeatureExtractor) OutputChannels() int {
	channels := fe.numChannels
	for _, stage := range fe.stages {
		channels = stage.OutputChannels(channels)
	}
	return channels
}

// OutputSize returns the spatial dimensions of the features extracted from images of the given size.
// Non-positive values mean the input is too small.
func (fe *FeatureExtractor) OutputSize(height, width int) (int, int) {
	for _, stage := range fe.stages {
		height, width = stage.OutputSize(height, width)
		if height <= 0 || width <= 0 {
			return 0, 0
		}
	}
	return height, width
}

// Apply builds the feature extractor graph over images shaped [batch, channels, height, width].
// Each stage creates its variables under its own scope in ctx.
func (fe *FeatureExtractor) Apply(ctx *context.Context, images *Node) *Node {
	if images.Rank() != 4 {
		Panicf("CRNN images must be shaped [batch, channels, height, width], got images.shape=%s", images.Shape())
	}
	dims := images.Shape().Dimensions
	if dims[1] != fe.numChannels || dims[2] != fe.imageHeight {
		Panicf("CRNN configured for %d channels and height %d, got images.shape=%s",
			fe.numChannels, fe.imageHeight, images.Shape())
	}
	if h, w := fe.OutputSize(dims[2], dims[3]); h <= 0 || w <= 0 {
		Panicf("CRNN images of width %d are too narrow for the pooling schedule (images.shape=%s)",
			dims[3], images.Shape())
	}
	x := images
	for _, stage := range fe.stages {
		x = stage.Apply(ctx, x)
	}
	return x
}
