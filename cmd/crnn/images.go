package main

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/gomlx/crnn/pkg/crnn"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/pkg/errors"
)

// loadImage reads the image file and converts it to the model input, shaped [1, channels, height, width].
func loadImage(imagePath string, cfg crnn.Config) (*tensors.Tensor, error) {
	img, err := imaging.Open(imagePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image from %q", imagePath)
	}
	return preprocessImage(img, cfg)
}

// preprocessImage resizes img to the configured height keeping its aspect ratio, and converts its
// values to the range [-1, 1], shaped [1, channels, height, width].
//
// With 1 channel the image is first converted to grayscale. Otherwise, channels are taken from
// the RGB values.
func preprocessImage(img image.Image, cfg crnn.Config) (*tensors.Tensor, error) {
	if cfg.NumChannels != 1 && cfg.NumChannels != 3 {
		return nil, errors.Errorf("images can only be converted to 1 or 3 channels, model configured with %d",
			cfg.NumChannels)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, errors.Errorf("empty image (bounds %v)", bounds)
	}
	height := cfg.ImageHeight
	width := int(math.Round(float64(bounds.Dx()) * float64(height) / float64(bounds.Dy())))
	width = max(width, crnn.MinImageWidth)
	img = imaging.Resize(img, width, height, imaging.Linear)
	if cfg.NumChannels == 1 {
		img = imaging.Grayscale(img)
	}

	// hwc is shaped [height, width, 3] with values in [0, 1].
	hwc := images.ToTensor(dtypes.Float32).Single(img)
	numChannels := cfg.NumChannels
	data := make([]float32, numChannels*height*width)
	err := tensors.ConstFlatData(hwc, func(flat []float32) {
		for c := range numChannels {
			for y := range height {
				for x := range width {
					v := flat[(y*width+x)*3+c]
					data[(c*height+y)*width+x] = 2*v - 1
				}
			}
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to convert image to tensor")
	}
	return tensors.FromFlatDataAndDimensions(data, 1, numChannels, height, width), nil
}
