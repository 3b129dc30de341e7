package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/view-grid/viewgrid"
)

func main() {
	var deviceName string
	var kindName string
	var concurrency int
	var verbose bool
	var warmup bool
	flag.StringVar(&deviceName, "device", "auto", "render device (auto, gpu, or cpu)")
	flag.StringVar(&kindName, "kind", "", "asset kind (splat or mesh), inferred from the "+
		"input extension by default")
	flag.IntVar(&concurrency, "concurrency", 0, "CPU rendering goroutines (0 for GOMAXPROCS)")
	flag.BoolVar(&verbose, "verbose", false, "log rendering stages")
	flag.BoolVar(&warmup, "warmup", false, "initialize the GPU before loading the asset")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: render_grid [flags] <input.ply|input.glb> <output.png>")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		flag.Usage()
		os.Exit(1)
	}
	inputPath, outputPath := args[0], args[1]

	device, err := viewgrid.ParseDevice(deviceName)
	essentials.Must(err)
	var kind viewgrid.AssetKind
	if kindName != "" {
		kind, err = viewgrid.ParseAssetKind(kindName)
	} else {
		kind, err = viewgrid.KindFromFilename(inputPath)
	}
	essentials.Must(err)

	opts := []viewgrid.Option{viewgrid.WithConcurrency(concurrency)}
	if verbose {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		opts = append(opts, viewgrid.WithLogger(slog.New(handler)))
	}
	if device == viewgrid.DeviceCPU {
		opts = append(opts, viewgrid.WithGPU(false))
	}
	renderer := viewgrid.NewRenderer(opts...)
	defer renderer.Close()

	if warmup {
		log.Println("Warming up accelerator...")
		if err := renderer.Warmup(); err != nil {
			log.Println(" - warmup failed:", err)
		}
	}

	log.Println("Loading asset...")
	f, err := os.Open(inputPath)
	essentials.Must(err)
	data, err := viewgrid.ReadPayload(f, viewgrid.MaxPayloadSize)
	f.Close()
	essentials.Must(err)

	log.Printf("Rendering %s grid on %s...", kind, device)
	encoded, err := renderer.Render(data, kind, device)
	essentials.Must(err)

	log.Println("Saving output...")
	essentials.Must(os.WriteFile(outputPath, encoded, 0644))
}
