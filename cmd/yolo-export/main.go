// Command yolo-export converts a YOLOv8 segmentation checkpoint to ONNX.
//
// Usage:
//
//	yolo-export [flags] [model]
//
// The model defaults to yolov8n-seg.pt; ".pt" is appended when missing.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ekisa-team/modelconv/internal/cli"
	"github.com/ekisa-team/modelconv/internal/converter/yolo"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := cli.RegisterFlags(flag.CommandLine)
	var (
		flagImgSz = flag.Int("imgsz", 0, "Export image size (default from config)")
		flagOpset = flag.Int("opset", 0, "ONNX opset (default from config)")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [model]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	app, err := cli.Bootstrap("yolo-export", flags, os.Stdout)
	if err != nil {
		return cli.Exit(os.Stderr, err)
	}
	if *flagImgSz > 0 {
		app.Config.YOLO.ImgSz = *flagImgSz
	}
	if *flagOpset > 0 {
		app.Config.YOLO.Opset = *flagOpset
	}

	ctx, stop := cli.Context()
	defer stop()

	exporter := yolo.New(app.Tools, yolo.Options{Model: flag.Arg(0)})
	exporter.Banner()

	_, err = exporter.Run(ctx)
	return cli.Exit(os.Stderr, err)
}
