// Command hands-export converts MediaPipe's bundled hand-landmark model to ONNX.
package main

import (
	"flag"
	"os"
	"strings"

	"github.com/ekisa-team/modelconv/internal/cli"
	"github.com/ekisa-team/modelconv/internal/converter/hands"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := cli.RegisterFlags(flag.CommandLine)
	var (
		flagOutput = flag.String("output", "", "Output .onnx path (required)")
		flagModel  = flag.String("model", "", "Model variant: "+strings.Join(hands.Variants(), ", ")+" (default from config)")
	)
	flag.Parse()

	app, err := cli.Bootstrap("hands-export", flags, os.Stdout)
	if err != nil {
		return cli.Exit(os.Stderr, err)
	}

	ctx, stop := cli.Context()
	defer stop()

	exporter, err := hands.New(app.Tools, hands.Options{Output: *flagOutput, Variant: *flagModel})
	if err != nil {
		return cli.Exit(os.Stderr, err)
	}

	_, err = exporter.Run(ctx)
	return cli.Exit(os.Stderr, err)
}
