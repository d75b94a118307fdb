package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/handtrack"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		device      = flag.String("device", "", "camera index, device path or video file")
		width       = flag.Int("width", 0, "capture width")
		height      = flag.Int("height", 0, "capture height")
		fps         = flag.Int("fps", 0, "capture frame rate")
		detModel    = flag.String("detector", "", "hand detector model (ONNX)")
		lmkModel    = flag.String("landmarks", "", "hand keypoint model")
		inputSize   = flag.Int("input-size", 0, "detector input size")
		lmkSize     = flag.Int("landmark-size", 0, "keypoint network input size")
		detectEvery = flag.Int("detect-every", 0, "run the detector every N frames")
		smoothing   = flag.Bool("smoothing", true, "enable temporal smoothing")
		addr        = flag.String("addr", "", "HTTP listen address")
		record      = flag.Bool("record", false, "record tracked hands to the database")
		backend     = flag.String("backend", "", "DNN backend: default, opencv, cuda, ...")
		target      = flag.String("target", "", "DNN target: cpu, fp16, cuda, ...")
		envFile     = flag.String("env", ".env", "path to .env file")
		motionGate  = flag.Bool("motion", false, "skip inference while the scene is still")
		staticDir   = flag.String("static", "", "directory of static web files")
	)
	flag.Parse()

	fmt.Println("Mudra - Real-time Hand Tracking")

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// flags given on the command line override the file and environment
	var smoothingFlag *bool
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			cfg.Camera.Device = *device
		case "width":
			cfg.Camera.Width = *width
		case "height":
			cfg.Camera.Height = *height
		case "fps":
			cfg.Camera.FPS = *fps
		case "detector":
			cfg.Models.Detector = *detModel
		case "landmarks":
			cfg.Models.Landmarks = *lmkModel
		case "input-size":
			cfg.Tracking.InputSize = *inputSize
		case "landmark-size":
			cfg.Tracking.LandmarkSize = *lmkSize
		case "detect-every":
			cfg.Tracking.DetectEvery = *detectEvery
		case "smoothing":
			cfg.Smoothing.Enabled = *smoothing
			smoothingFlag = smoothing
		case "addr":
			cfg.Server.Addr = *addr
		case "record":
			cfg.Store.Record = *record
		case "backend":
			cfg.Models.Backend = *backend
		case "target":
			cfg.Models.Target = *target
		case "motion":
			cfg.Motion.Enabled = *motionGate
		case "static":
			cfg.Server.StaticDir = *staticDir
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize the store
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath, err = defaultDBPath()
		if err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}
	st, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	// Load the networks; an unloaded pipeline reports no hands
	pipeline := handtrack.New()
	if err := pipeline.Load(cfg.PipelineOptions()); err != nil {
		log.Printf("Hand tracking disabled: %v", err)
	}

	a := app.New(app.Config{
		Camera:       capture.NewCamera(cfg.CaptureConfig()),
		Tracker:      pipeline,
		Store:        st,
		Device:       cfg.Camera.Device,
		Record:       cfg.Store.Record,
		MotionGate:   cfg.Motion.Enabled,
		MotionThresh: cfg.Motion.Threshold,
		IdleTimeout:  cfg.IdleTimeout(),
		Overlay:      cfg.Server.Overlay,

		SmoothingEnabled: smoothingFlag,
	})
	if err := a.Start(); err != nil {
		log.Fatalf("Failed to start capture: %v", err)
	}

	srv := server.New(server.Config{
		StaticDir: cfg.Server.StaticDir,
		Store:     st,
		Source:    a,
		StreamFPS: cfg.Server.StreamFPS,
	})

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Starting server on %s\n", cfg.Server.Addr)
		errCh <- srv.ListenAndServe(cfg.Server.Addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			log.Printf("Server failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	a.Stop()
}

// defaultDBPath returns ~/.mudra/mudra.db, creating the directory.
func defaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	dbDir := filepath.Join(homeDir, ".mudra")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dbDir, "mudra.db"), nil
}
