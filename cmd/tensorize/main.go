// Command tensorize converts one image or .npy array into a raw tensor file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/dunamismax/pixeltensor/internal/domain"
	"github.com/dunamismax/pixeltensor/internal/pipeline"
	"github.com/dunamismax/pixeltensor/internal/tensor"
)

type invocation struct {
	image  string
	output string
	opts   pipeline.Options
}

func main() {
	logger := log.New(os.Stderr, "[tensorize] ", log.LstdFlags|log.Lmsgprefix)

	inv, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Printf("invalid arguments: %v", err)
		os.Exit(2)
	}

	if err := run(context.Background(), inv, logger); err != nil {
		logger.Printf("conversion failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, inv invocation, logger *log.Logger) error {
	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}
	defer pipeline.Shutdown()

	processor, err := pipeline.NewLocalProcessor("", logger)
	if err != nil {
		return err
	}

	if inv.opts.Layout == tensor.LayoutNHWC {
		logger.Printf("selecting z major layout for image")
	}

	result, err := processor.Process(ctx, pipeline.Request{
		JobID:      "tensorize",
		SourceType: pipeline.SourceTypeLocalFile,
		ObjectKey:  inv.image,
		OutputKey:  inv.output,
		Options:    inv.opts,
	})
	if err != nil {
		return err
	}

	out := result.Output
	logger.Printf(
		"wrote path=%s bytes=%d dtype=%s layout=%s dims=%v",
		out.Path,
		out.Bytes,
		out.Type,
		strings.ToLower(string(out.Layout)),
		out.Dims,
	)
	return nil
}

func parseArgs(args []string, stderr io.Writer) (invocation, error) {
	fs := flag.NewFlagSet("tensorize", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		image       = fs.String("image", "", "source image or .npy array (required)")
		shape       = fs.String("shape", "", "target tensor shape N,C,H,W (required)")
		dtype       = fs.String("dtype", "u8", "element type: u8, i8, fp16 or fp32")
		scale       = fs.Float64("scale", 1, "multiplier applied to every value before mean subtraction")
		mean        = fs.String("mean", "", "mean in any form: .npy path, r,g,b triplet or scalar")
		meanFile    = fs.String("mean-file", "", "per-channel mean from a (C,H,W) .npy file")
		meanRGB     = fs.String("mean-rgb", "", "per-channel mean triplet r,g,b")
		meanValue   = fs.Float64("mean-value", 0, "scalar mean subtracted from every channel")
		channelSwap = fs.String("channel-swap", "", "channel permutation, e.g. 2,1,0 for RGB to BGR")
		zmajor      = fs.Bool("zmajor", false, "write channel-minor (nhwc) output")
		layout      = fs.String("layout", "", "output layout: nchw, nhwc or nwhc (default nchw)")
		resize      = fs.String("resize", pipeline.ResizeArea, "resize policy: area, nearest, bilinear or catmull-rom")
		output      = fs.String("output", pipeline.DefaultOutputName, "destination file")
	)
	if err := fs.Parse(args); err != nil {
		return invocation{}, err
	}
	if fs.NArg() > 0 {
		return invocation{}, fmt.Errorf("unexpected arguments %v", fs.Args())
	}
	if strings.TrimSpace(*image) == "" {
		return invocation{}, errors.New("-image is required")
	}
	if strings.TrimSpace(*shape) == "" {
		return invocation{}, errors.New("-shape is required")
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	meanFlags := 0
	for _, name := range []string{"mean", "mean-file", "mean-rgb", "mean-value"} {
		if set[name] {
			meanFlags++
		}
	}
	if meanFlags > 1 {
		return invocation{}, errors.New("at most one of -mean, -mean-file, -mean-rgb and -mean-value may be set")
	}

	outLayout := *layout
	if *zmajor {
		if outLayout != "" && !strings.EqualFold(outLayout, string(tensor.LayoutNHWC)) {
			return invocation{}, fmt.Errorf("-zmajor conflicts with -layout %s", outLayout)
		}
		outLayout = string(tensor.LayoutNHWC)
	}

	spec := domain.ConvertSpec{
		Shape:    *shape,
		DType:    *dtype,
		Scale:    *scale,
		MeanFile: *meanFile,
		Layout:   outLayout,
		Resize:   *resize,
	}
	if set["mean-value"] {
		spec.MeanValue = meanValue
	}
	if set["mean-rgb"] {
		triplet, err := pipeline.ParseTripletMean(*meanRGB)
		if err != nil {
			return invocation{}, err
		}
		spec.MeanRGB = triplet[:]
	}
	if *channelSwap != "" {
		swap, err := pipeline.ParseChannelSwap(*channelSwap)
		if err != nil {
			return invocation{}, err
		}
		spec.ChannelSwap = swap
	}

	opts, err := pipeline.OptionsFromSpec(spec)
	if err != nil {
		return invocation{}, err
	}
	if set["mean"] {
		legacy, err := pipeline.ParseMean(*mean)
		if err != nil {
			return invocation{}, err
		}
		opts.Photometric.Mean = legacy
	}

	return invocation{image: *image, output: *output, opts: opts}, nil
}
