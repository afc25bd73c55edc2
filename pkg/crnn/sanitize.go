// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package crnn

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// SanitizeGradient replaces the non-finite (NaN, +Inf or -Inf) elements of grad by 0.
// Finite elements are left unchanged. Non-float gradients are returned as is.
//
// Unlike optimizers.ClipNaNsInGradients, which zeroes the whole tensor, only the offending elements
// are replaced.
func SanitizeGradient(grad *Node) *Node {
	if grad == nil || !grad.DType().IsFloat() {
		return grad
	}
	return Where(IsFinite(grad), grad, ZerosLike(grad))
}

// SanitizeGradients applies SanitizeGradient to each of the grads. It returns a new slice.
func SanitizeGradients(grads []*Node) []*Node {
	sanitized := make([]*Node, len(grads))
	for ii, grad := range grads {
		sanitized[ii] = SanitizeGradient(grad)
	}
	return sanitized
}

// SanitizeTensor replaces in place the non-finite elements of a gradient stored in a host tensor by 0,
// and returns how many elements were replaced.
//
// It returns an error if the tensor is not of a float dtype.
func SanitizeTensor(t *tensors.Tensor) (replaced int, err error) {
	switch t.DType() {
	case dtypes.Float32:
		err = tensors.MutableFlatData(t, func(flat []float32) { replaced = sanitizeFloats(flat) })
	case dtypes.Float64:
		err = tensors.MutableFlatData(t, func(flat []float64) { replaced = sanitizeFloats(flat) })
	case dtypes.Float16:
		err = tensors.MutableFlatData(t, func(flat []float16.Float16) {
			for ii, v := range flat {
				if v.IsNaN() || v.IsInf(0) {
					flat[ii] = float16.Float16(0)
					replaced++
				}
			}
		})
	case dtypes.BFloat16:
		err = tensors.MutableFlatData(t, func(flat []bfloat16.BFloat16) {
			for ii, v := range flat {
				if !isFinite(v.Float32()) {
					flat[ii] = bfloat16.FromFloat32(0)
					replaced++
				}
			}
		})
	default:
		return 0, errors.Errorf("SanitizeTensor requires a float tensor, got dtype %s", t.DType())
	}
	if err != nil {
		return 0, errors.WithMessage(err, "SanitizeTensor failed to access tensor data")
	}
	return replaced, nil
}

func isFinite[T constraints.Float](v T) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func sanitizeFloats[T constraints.Float](flat []T) (replaced int) {
	for ii, v := range flat {
		if !isFinite(v) {
			flat[ii] = 0
			replaced++
		}
	}
	return
}

// gradientsOptimizer is an optimizer that can also apply gradients computed elsewhere, like
// optimizers.StochasticGradientDescent and optimizers.Adam.
type gradientsOptimizer interface {
	optimizers.Interface
	UpdateGraphWithGradients(ctx *context.Context, grads []*Node, lossDType dtypes.DType)
}

// sanitizingOptimizer computes the gradients of the trainable variables, sanitizes them and
// delegates the update to the wrapped optimizer.
type sanitizingOptimizer struct {
	gradientsOptimizer
}

// WithGradientSanitizer wraps opt so that the gradients of the loss have their non-finite elements
// replaced by 0 (see SanitizeGradient) before opt uses them.
//
// It returns an error if opt can't be given precomputed gradients.
func WithGradientSanitizer(opt optimizers.Interface) (optimizers.Interface, error) {
	if opt == nil {
		return nil, errors.New("WithGradientSanitizer requires an optimizer, got nil")
	}
	gradsOpt, ok := opt.(gradientsOptimizer)
	if !ok {
		return nil, errors.Errorf("optimizer %T doesn't support updates from precomputed gradients", opt)
	}
	return &sanitizingOptimizer{gradsOpt}, nil
}

// UpdateGraph implements optimizers.Interface.
func (o *sanitizingOptimizer) UpdateGraph(ctx *context.Context, _ *Graph, loss *Node) {
	if !loss.Shape().IsScalar() {
		Panicf("optimizer requires a scalar loss to optimize, got loss.shape=%s instead", loss.Shape())
	}
	grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
	o.UpdateGraphWithGradients(ctx, grads, loss.DType())
}

// UpdateGraphWithGradients sanitizes grads and forwards them to the wrapped optimizer.
func (o *sanitizingOptimizer) UpdateGraphWithGradients(ctx *context.Context, grads []*Node, lossDType dtypes.DType) {
	o.gradientsOptimizer.UpdateGraphWithGradients(ctx, SanitizeGradients(grads), lossDType)
}
