// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package crnn

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// ErrInvalidConfig is wrapped by every error returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid CRNN configuration")

const (
	// HeightDivisor is the factor by which the pooling schedule divides the image height before the last
	// (2x2, no padding) convolution. Image heights must be a multiple of it.
	HeightDivisor = 16

	// NumRNNLayers is the only supported number of stacked bidirectional LSTM units.
	NumRNNLayers = 2

	// LeakyReluAlpha is the negative slope used when Config.LeakyRelu is set.
	LeakyReluAlpha = 0.2
)

const (
	// ParamImageHeight is the context hyperparameter with the image height. It must be a multiple of 16.
	ParamImageHeight = "crnn_image_height"

	// ParamNumChannels is the context hyperparameter with the number of image channels (1 for grayscale).
	ParamNumChannels = "crnn_num_channels"

	// ParamNumClasses is the context hyperparameter with the number of output classes, including the blank.
	ParamNumClasses = "crnn_num_classes"

	// ParamHiddenSize is the context hyperparameter with the hidden size of each LSTM direction.
	ParamHiddenSize = "crnn_hidden_size"

	// ParamNumRNNLayers is the context hyperparameter with the number of bidirectional LSTM units.
	// Only 2 is supported.
	ParamNumRNNLayers = "crnn_num_rnn_layers"

	// ParamLeakyRelu selects the leaky ReLU activation (with slope LeakyReluAlpha) for the convolutions.
	ParamLeakyRelu = "crnn_leaky_relu"
)

// Config holds the construction parameters of a CRNN model.
type Config struct {
	// ImageHeight of the input images. Must be a multiple of HeightDivisor.
	ImageHeight int

	// NumChannels of the input images.
	NumChannels int

	// NumClasses is the size of the output class axis, including the blank symbol used by CTC.
	NumClasses int

	// HiddenSize of each LSTM direction. It is also the width of the projection between the two
	// bidirectional units.
	HiddenSize int

	// NumRNNLayers must be NumRNNLayers.
	NumRNNLayers int

	// LeakyRelu selects LeakyRelu(LeakyReluAlpha) instead of Relu after each convolution.
	LeakyRelu bool

	// DType of the images and of the parameters.
	DType dtypes.DType
}

// DefaultConfig returns the usual configuration for scene-text recognition: 32 pixels tall grayscale
// images, 36 alphanumeric symbols plus blank and 256 hidden units.
func DefaultConfig() Config {
	return Config{
		ImageHeight:  32,
		NumChannels:  1,
		NumClasses:   37,
		HiddenSize:   256,
		NumRNNLayers: NumRNNLayers,
		DType:        dtypes.Float32,
	}
}

// CreateDefaultContext returns a new context with all CRNN hyperparameters set to their defaults, so they
// can be listed and overwritten from the command line.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	cfg := DefaultConfig()
	ctx.SetParams(map[string]any{
		ParamImageHeight:  cfg.ImageHeight,
		ParamNumChannels:  cfg.NumChannels,
		ParamNumClasses:   cfg.NumClasses,
		ParamHiddenSize:   cfg.HiddenSize,
		ParamNumRNNLayers: cfg.NumRNNLayers,
		ParamLeakyRelu:    cfg.LeakyRelu,
	})
	return ctx
}

// ConfigFromContext returns DefaultConfig overwritten by any of the CRNN hyperparameters set in ctx.
func ConfigFromContext(ctx *context.Context) Config {
	cfg := DefaultConfig()
	cfg.ImageHeight = context.GetParamOr(ctx, ParamImageHeight, cfg.ImageHeight)
	cfg.NumChannels = context.GetParamOr(ctx, ParamNumChannels, cfg.NumChannels)
	cfg.NumClasses = context.GetParamOr(ctx, ParamNumClasses, cfg.NumClasses)
	cfg.HiddenSize = context.GetParamOr(ctx, ParamHiddenSize, cfg.HiddenSize)
	cfg.NumRNNLayers = context.GetParamOr(ctx, ParamNumRNNLayers, cfg.NumRNNLayers)
	cfg.LeakyRelu = context.GetParamOr(ctx, ParamLeakyRelu, cfg.LeakyRelu)
	return cfg
}

// Validate returns an error wrapping ErrInvalidConfig if the configuration can't be built.
func (cfg Config) Validate() error {
	if cfg.ImageHeight <= 0 || cfg.ImageHeight%HeightDivisor != 0 {
		return errors.Wrapf(ErrInvalidConfig, "image height must be a positive multiple of %d, got %d",
			HeightDivisor, cfg.ImageHeight)
	}
	if cfg.NumChannels <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "number of channels must be > 0, got %d", cfg.NumChannels)
	}
	if cfg.NumClasses <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "number of classes must be > 0, got %d", cfg.NumClasses)
	}
	if cfg.HiddenSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "hidden size must be > 0, got %d", cfg.HiddenSize)
	}
	if cfg.NumRNNLayers != NumRNNLayers {
		return errors.Wrapf(ErrInvalidConfig, "only %d stacked bidirectional LSTMs are supported, got %d",
			NumRNNLayers, cfg.NumRNNLayers)
	}
	if !cfg.DType.IsFloat() {
		return errors.Wrapf(ErrInvalidConfig, "dtype must be a float, got %s", cfg.DType)
	}
	return nil
}
