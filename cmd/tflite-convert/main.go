// Command tflite-convert produces a TensorFlow Lite semantic segmentation
// model, falling back to hand-built networks when the registry is unreachable.
package main

import (
	"flag"
	"os"

	"github.com/ekisa-team/modelconv/internal/cli"
	"github.com/ekisa-team/modelconv/internal/converter/tflite"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := cli.RegisterFlags(flag.CommandLine)
	var (
		flagOutput  = flag.String("output", "", "Output .tflite path (default from config)")
		flagWorkDir = flag.String("workdir", "", "Directory for intermediate SavedModels (default: temporary)")
		flagNoTest  = flag.Bool("no-test", false, "Skip the interpreter smoke test")
	)
	flag.Parse()

	app, err := cli.Bootstrap("tflite-convert", flags, os.Stdout)
	if err != nil {
		return cli.Exit(os.Stderr, err)
	}
	if *flagNoTest {
		verify := false
		app.Config.Segmentation.Verify = &verify
	}

	ctx, stop := cli.Context()
	defer stop()

	_, err = tflite.New(app.Tools, tflite.Options{
		Output:  *flagOutput,
		WorkDir: *flagWorkDir,
	}).Run(ctx)
	return cli.Exit(os.Stderr, err)
}
