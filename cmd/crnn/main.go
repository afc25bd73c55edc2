// crnn prints the layer schedule of a CRNN model for the configured image size, and optionally builds
// the model on a backend and runs it over random inputs or image files.
//
// Example:
//
//	crnn -set="crnn_image_height=48;crnn_leaky_relu=true" -width=160 -run
//	crnn -set="crnn_num_channels=3" word1.png word2.jpg
//
// The backend is selected with GOMLX_BACKEND.
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/crnn/pkg/crnn"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagWidth = flag.Int("width", 100, "Width of the images used for the layer schedule and for -run.")
	flagBatch = flag.Int("batch", 1, "Batch size of the random images used with -run.")
	flagRun   = flag.Bool("run", false, "Build the model on the backend and run it over random images. "+
		"It is implied if image files are given.")
	flagSeed = flag.Int64("seed", 42, "Seed for the random images used with -run.")
)

func main() {
	ctx := crnn.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	if len(paramsSet) > 0 {
		klog.V(1).Infof("Modified settings:\n%s", commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}

	cfg := crnn.ConfigFromContext(ctx)
	model, err := crnn.New(cfg)
	if err != nil {
		klog.Fatalf("Failed to create model: %+v", err)
	}
	if *flagWidth < crnn.MinImageWidth {
		klog.Fatalf("-width=%d is too narrow, the minimum is %d", *flagWidth, crnn.MinImageWidth)
	}
	if *flagBatch <= 0 {
		klog.Fatalf("-batch=%d must be > 0", *flagBatch)
	}

	fmt.Println(titleStyle.Render("Layers"))
	fmt.Println(stagesTable(model, *flagWidth))

	imagePaths := flag.Args()
	if !*flagRun && len(imagePaths) == 0 {
		fmt.Println(titleStyle.Render("Summary"))
		fmt.Println(summaryTable(model, *flagWidth, 0))
		return
	}

	backend := backends.MustNew()
	klog.V(1).Infof("Backend: %s", backend.Description())
	modelCtx := ctx.In("model")
	exec := context.MustNewExec(backend, modelCtx, model.Apply)

	if len(imagePaths) == 0 {
		images := randomImages(cfg, *flagBatch, *flagWidth, *flagSeed)
		output := exec.MustExec(images)[0]
		fmt.Println(titleStyle.Render("Summary"))
		fmt.Println(summaryTable(model, *flagWidth, ctx.NumParameters()))
		reportOutput("random images", output)
		return
	}

	type result struct {
		path   string
		output *tensors.Tensor
	}
	results := make([]result, 0, len(imagePaths))
	bar := progressbar.Default(int64(len(imagePaths)), "Running model")
	for _, imagePath := range imagePaths {
		input, err := loadImage(imagePath, cfg)
		if err != nil {
			klog.Errorf("Skipping %q: %+v", imagePath, err)
			_ = bar.Add(1)
			continue
		}
		results = append(results, result{imagePath, exec.MustExec(input)[0]})
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Println(titleStyle.Render("Summary"))
	fmt.Println(summaryTable(model, *flagWidth, ctx.NumParameters()))
	for _, r := range results {
		reportOutput(r.path, r.output)
	}
	if len(results) < len(imagePaths) {
		os.Exit(1)
	}
}

// randomImages returns a batch of images with values uniformly distributed in [-1, 1).
func randomImages(cfg crnn.Config, batchSize, width int, seed int64) *tensors.Tensor {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float32, batchSize*cfg.NumChannels*cfg.ImageHeight*width)
	for ii := range data {
		data[ii] = 2*rng.Float32() - 1
	}
	return tensors.FromFlatDataAndDimensions(data, batchSize, cfg.NumChannels, cfg.ImageHeight, width)
}

// reportOutput prints the shape of the output and how far the exponentiated log-probabilities are from
// summing to 1.
func reportOutput(name string, output *tensors.Tensor) {
	dims := output.Shape().Dimensions
	numClasses := dims[len(dims)-1]
	var maxDeviation float64
	must.M(tensors.ConstFlatData(output, func(flat []float32) {
		for start := 0; start < len(flat); start += numClasses {
			var sum float64
			for _, v := range flat[start : start+numClasses] {
				sum += math.Exp(float64(v))
			}
			maxDeviation = max(maxDeviation, math.Abs(sum-1))
		}
	}))
	fmt.Printf("%s: output shape %s (%s elements), max |sum(exp(logp))-1| = %.3g\n",
		name, output.Shape(), humanize.Comma(int64(output.Shape().Size())), maxDeviation)
}
