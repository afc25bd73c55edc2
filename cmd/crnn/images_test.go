package main

import (
	"image/color"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/crnn/pkg/crnn"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocessImage(t *testing.T) {
	cfg := crnn.DefaultConfig()

	// A white 200x64 image becomes 100x32, with all values 1.
	img := imaging.New(200, 64, color.White)
	input, err := preprocessImage(img, cfg)
	require.NoError(t, err)
	require.NoError(t, input.Shape().Check(dtypes.Float32, 1, 1, 32, 100))
	require.NoError(t, tensors.ConstFlatData(input, func(flat []float32) {
		for _, v := range flat {
			require.InDelta(t, 1.0, v, 1e-5)
		}
	}))

	// A black RGB image, very narrow, is widened to the minimum width, with all values -1.
	cfg.NumChannels = 3
	img = imaging.New(1, 64, color.Black)
	input, err = preprocessImage(img, cfg)
	require.NoError(t, err)
	require.NoError(t, input.Shape().Check(dtypes.Float32, 1, 3, 32, crnn.MinImageWidth))
	require.NoError(t, tensors.ConstFlatData(input, func(flat []float32) {
		for _, v := range flat {
			require.InDelta(t, -1.0, v, 1e-5)
		}
	}))

	cfg.NumChannels = 2
	_, err = preprocessImage(img, cfg)
	require.Error(t, err)
}

func TestLoadImageMissing(t *testing.T) {
	_, err := loadImage("/nonexistent/image.png", crnn.DefaultConfig())
	require.Error(t, err)
}

func TestStagesTable(t *testing.T) {
	model := crnn.Must(crnn.DefaultConfig())
	table := stagesTable(model, 100)
	for _, name := range []string{"conv0", "pooling3", "conv6", "bilstm1", "[512, 1, 26]"} {
		assert.Truef(t, strings.Contains(table, name), "missing %q in stages table:\n%s", name, table)
	}
	summary := summaryTable(model, 100, 1234567)
	assert.Contains(t, summary, "1,234,567")
	assert.Contains(t, summary, "26")
}

func TestStagesTableTooNarrow(t *testing.T) {
	model := crnn.Must(crnn.DefaultConfig())
	table := stagesTable(model, 2)
	assert.Contains(t, table, "pooling1")
	assert.NotContains(t, table, "conv2")
	assert.Contains(t, summaryTable(model, 2, 0), "sequence length")
	assert.NotContains(t, summaryTable(model, 2, 0), "# parameters")
}
