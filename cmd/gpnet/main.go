// gpnet builds the GPNet density estimation network, prints its structure and, optionally, estimates the
// count of objects in images.
//
// Examples:
//
//	$ gpnet                                     # Default 576x320x3 network summary.
//	$ gpnet -config=help                        # List hyperparameters.
//	$ gpnet -height=320 -width=320 -ops         # Every op of a 320x320x3 network.
//	$ gpnet -checkpoint=~/gpnet -save           # Initialize and save weights.
//	$ gpnet -checkpoint=~/gpnet -image=crowd.jpg
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/gpnet/internal/gpnet"
	"github.com/janpfeifer/gpnet/internal/parameters"
	"github.com/janpfeifer/gpnet/internal/profilers"
	"github.com/janpfeifer/gpnet/internal/ui/spinning"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagHeight   = flag.Int("height", 0, "Image height, must be divisible by 8. If 0, uses the image_height hyperparameter.")
	flagWidth    = flag.Int("width", 0, "Image width, must be divisible by 8. If 0, uses the image_width hyperparameter.")
	flagChannels = flag.Int("channels", 0, "Image channels. If 0, uses the image_channels hyperparameter.")
	flagConfig   = flag.String("config", "",
		"Hyperparameters as a comma-separated list of key=value, e.g. \"fem_reduction=8,attention_scaled\". "+
			"Use \"help\" to list them.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory where to load/save the weights and hyperparameters.")
	flagSave       = flag.Bool("save", false, "Initialize the weights not yet loaded and save them to -checkpoint.")
	flagImage      = flag.String("image", "", "Comma-separated list of images on which to estimate the counts.")
	flagOps        = flag.Bool("ops", false, "Print every operation of the network, not only the blocks.")

	// backend is created on first use.
	backend = sync.OnceValue(func() backends.Backend { return backends.New() })
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	spinning.SafeInterrupt(cancel, 3*time.Second)
	defer cancel()
	prof, err := profilers.Setup(ctx)
	if err != nil {
		klog.Exitf("Failed to set up profilers: %+v", err)
	}
	defer prof.OnQuit()

	model := gpnet.New()
	if *flagConfig == "help" {
		fmt.Println(model.HyperparametersHelp())
		return
	}
	if *flagCheckpoint != "" {
		if err = model.AttachCheckpoint(expandHome(*flagCheckpoint)); err != nil {
			klog.Exitf("%+v", err)
		}
	}
	params := parameters.NewFromConfigString(*flagConfig)
	overrideParam(params, gpnet.ParamImageHeight, *flagHeight)
	overrideParam(params, gpnet.ParamImageWidth, *flagWidth)
	overrideParam(params, gpnet.ParamImageChannels, *flagChannels)
	if err = model.SetParams(params); err != nil {
		klog.Exitf("Invalid -config=%q: %+v", *flagConfig, err)
	}

	height, width, channels := model.ImageDims()
	net, err := model.Build(backend(), height, width, channels)
	if err != nil {
		klog.Exitf("%+v", err)
	}
	fmt.Print(summary(net, *flagOps))

	if *flagImage != "" {
		estimateCounts(ctx, model, strings.Split(*flagImage, ","))
	}
	if *flagSave {
		if *flagCheckpoint == "" {
			klog.Exitf("-save requires -checkpoint")
		}
		s := spinning.New(ctx, "initializing weights")
		err = model.InitializeWeights(backend())
		klog.V(1).Infof("Weights initialized in %s", s.Done())
		if err != nil {
			klog.Exitf("%+v", err)
		}
		if err = model.SaveWeights(); err != nil {
			klog.Exitf("%+v", err)
		}
	}
}

// overrideParam sets key in params if value is > 0.
func overrideParam(params parameters.Params, key string, value int) {
	if value > 0 {
		params[key] = strconv.Itoa(value)
	}
}

// estimateCounts executes the model on the images and prints the estimated count for each.
func estimateCounts(ctx context.Context, model *gpnet.GPNet, paths []string) {
	images, err := model.LoadImages(backend(), paths...)
	if err != nil {
		klog.Exitf("%+v", err)
	}
	if *flagCheckpoint == "" {
		klog.Warningf("No -checkpoint given: estimating counts with randomly initialized weights")
	}
	s := spinning.New(ctx, fmt.Sprintf("running %s", model))
	_, counts, err := model.Predict(backend(), images)
	elapsed := s.Done()
	if err != nil {
		klog.Exitf("%+v", err)
	}
	klog.V(1).Infof("Executed on %d images in %s", len(paths), elapsed)
	for ii, count := range tensors.CopyFlatData[float32](counts) {
		fmt.Printf("%s: estimated count %.1f\n", paths[ii], count)
	}
}

// expandHome replaces a leading "~" in path by the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	return filepath.Join(must.M1(os.UserHomeDir()), path[1:])
}
