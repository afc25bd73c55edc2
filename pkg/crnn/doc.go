// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package crnn implements a Convolutional Recurrent Neural Network (CRNN) [1] for image-based sequence
// recognition, such as scene-text recognition.
//
// A convolutional feature extractor reduces images shaped [batch, channels, height, width] to feature maps
// of height 1. Each column of the feature map becomes one step of a time-major sequence, processed by two
// bidirectional LSTM units, each followed by a linear projection. The output are the log-probabilities of
// each class, shaped [time, batch, numClasses], suited for a CTC loss.
//
// Example:
//
//	model := crnn.Must(crnn.DefaultConfig())
//	logProbs := model.Apply(ctx, images) // images: [batch, 1, 32, width]
//
// Training gradients can be protected from NaN and Inf values with WithGradientSanitizer.
//
// [1] "An End-to-End Trainable Neural Network for Image-based Sequence Recognition and Its Application to
// Scene Text Recognition", Baoguang Shi, Xiang Bai, Cong Yao, https://arxiv.org/abs/1507.05717
package crnn
