// Command pitchtracker runs the stereo pitch-tracking pipeline: dual-camera
// capture, blob detection, stereo pairing, the pitch state machine,
// recording, analysis, and the HTTP/WebSocket control surface, all wired
// to one EventBus by an Orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"pitchtracker/internal/apiauth"
	"pitchtracker/internal/capture"
	"pitchtracker/internal/config"
	"pitchtracker/internal/logging"
	"pitchtracker/internal/orchestrator"
	"pitchtracker/internal/recording"
	"pitchtracker/internal/signalbridge"
	"pitchtracker/internal/stereo"
	"pitchtracker/internal/store"
	"pitchtracker/internal/telemetry"
)

func main() {
	var (
		configPathF      = flag.String("config", "", "path to the TOML configuration file")
		calibrationPathF = flag.String("calibration", "calibration.toml", "path to the stereo calibration TOML file")
		dbPathF          = flag.String("db", "./pitchtracker.db", "path to the SQLite session/pitch index")
		logLevelF        = flag.String("log-level", "info", "log level: debug, info, warn, error")
		devLogF          = flag.Bool("dev-log", false, "use human-readable console logging instead of JSON")
		probeCamerasF    = flag.Bool("probe-cameras", false, "enumerate available camera device IDs and exit")
	)
	flag.Parse()

	if *probeCamerasF {
		for _, id := range capture.EnumerateCameras(10) {
			fmt.Println(id)
		}
		return
	}

	log, err := logging.New(logging.Options{Level: *logLevelF, Development: *devLogF})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pitchtracker: %v\n", err)
		os.Exit(1)
	}
	defer logging.MustSync(log)

	cfg, err := config.Load(*configPathF)
	if err != nil {
		log.Fatal("loading configuration", zap.Error(err))
	}

	cal, err := stereo.LoadCalibration(*calibrationPathF)
	if err != nil {
		log.Fatal("loading calibration", zap.Error(err))
	}
	if err := cal.Validate(); err != nil {
		log.Fatal("invalid calibration", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Recording.OutputDir, 0o755); err != nil {
		log.Fatal("creating recording output directory", zap.Error(err))
	}

	st, err := store.New(*dbPathF)
	if err != nil {
		log.Fatal("opening session/pitch index", zap.Error(err))
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		log.Fatal("migrating session/pitch index", zap.Error(err))
	}
	log.Info("session/pitch index ready", zap.String("path", *dbPathF))

	authenticator := apiauth.New(cfg.API, cfg.API.AuthUsername, cfg.API.AuthPassword, cfg.API.JWTExpiryMinutes)
	if authenticator.IsEnabled() {
		log.Info("API authentication enabled", zap.String("user", cfg.API.AuthUsername))
	} else {
		log.Info("API authentication disabled (set AUTH_ENABLED=true to enable)")
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	bridge := signalbridge.New(log)

	orch := orchestrator.New(log, cfg, cal, st, capture.NewGoCVDriver, recording.NewGoCVWriterOpener(), metrics, bridge)
	defer orch.Shutdown()

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	handleHTTPServer(ctx, cfg.API.ListenAddr, orch, authenticator, bridge, reg, &wg, errc, log)

	log.Info("exiting", zap.Error(<-errc))
	cancel()
	wg.Wait()
	log.Info("exited")
}
