// Command engine-build compiles an ONNX model into a TensorRT FP16 engine.
package main

import (
	"flag"
	"os"

	"github.com/ekisa-team/modelconv/internal/cli"
	"github.com/ekisa-team/modelconv/internal/converter/engine"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := cli.RegisterFlags(flag.CommandLine)
	var (
		flagInput  = flag.String("input", "", "ONNX model (default from config)")
		flagOutput = flag.String("output", "", "Engine file (default from config)")
		flagWatch  = flag.Bool("watch", false, "Rebuild whenever the input changes")
	)
	flag.Parse()

	app, err := cli.Bootstrap("engine-build", flags, os.Stdout)
	if err != nil {
		return cli.Exit(os.Stderr, err)
	}

	ctx, stop := cli.Context()
	defer stop()

	builder := engine.New(app.Tools, engine.Options{Input: *flagInput, Output: *flagOutput})
	if *flagWatch {
		return cli.Exit(os.Stderr, builder.Watch(ctx))
	}

	_, err = builder.Run(ctx)
	return cli.Exit(os.Stderr, err)
}
