package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"camstream/config"
	"camstream/dcam"
	"camstream/dcam/sim"
	"camstream/serve"
	"camstream/video/sink"
	"camstream/video/source"
)

var (
	configPath = flag.String("config", "", "Path to the JSON config file. Built-in defaults are used if empty.")
	port       = flag.Int("port", 0, "Port to host the HTTP API. Overrides the config file.")
	autostart  = flag.Bool("start", true, "Start streaming on launch.")
)

func params(c *config.Config) source.Params {
	return source.Params{
		Camera:       c.Camera,
		Exposure:     c.Exposure,
		Resolution:   c.Resolution(),
		BufferFrames: c.BufferFrames,
		WaitTimeout:  c.WaitTimeout(),
	}
}

func setLogLevel(c *config.Config) {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.Warnf("Ignoring log level: %v", err)
		return
	}
	log.SetLevel(lvl)
}

func openDriver(c *config.Config) (dcam.Driver, error) {
	if !c.Simulate {
		return nil, errors.New("no hardware driver is built into this binary; set Simulate in the config")
	}
	cam := sim.Camera{
		Model:    dcam.C11440_22CU,
		Frames:   c.SimFrames,
		Interval: c.SimInterval(),
	}
	cams := make([]sim.Camera, c.Camera+1)
	for i := range cams {
		cams[i] = cam
	}
	log.Infof("Using simulated driver with %d camera(s)", len(cams))
	return sim.New(cams...), nil
}

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reloads are applied on the main goroutine; only the newest one matters.
	reloads := make(chan *config.Config, 1)
	cfg := config.Default()
	if *configPath != "" {
		err := config.Load(ctx, *configPath, func(c *config.Config) {
			select {
			case <-reloads:
			default:
			}
			reloads <- c
		})
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *config.Get()
	}
	if *port != 0 {
		cfg.Port = *port
	}
	setLogLevel(&cfg)

	driver, err := openDriver(&cfg)
	if err != nil {
		log.Fatalf("Failed to open camera driver: %v", err)
	}
	defer driver.Close()

	src := source.NewSource(driver, dcam.C11440_22CU, params(&cfg))
	if info, err := src.Describe(); err != nil {
		log.Warnf("Failed to read camera information: %v", err)
	} else {
		log.Infof("Camera %d: %s, %s, API %s", cfg.Camera, info.Model, info.Serial, info.APIVersion)
	}

	mjpegServer := sink.NewMJPEGServer()
	preview := mjpegServer.NewStream(sink.MJPEGID{Name: "preview"})
	defer preview.Close()

	feed := serve.NewFrameFeed(ctx)

	ctrl := serve.NewController(ctx, src)
	ctrl.Register("preview", sink.Tee{sink.NewRateLimit(preview, cfg.PreviewFPS), feed})
	ctrl.Register("feed", feed)
	ctrl.Register("discard", sink.Discard)
	defer ctrl.Shutdown()

	mux := http.NewServeMux()
	mux.Handle("/", ctrl.Handler())
	mux.Handle("/mjpeg", mjpegServer)
	mux.Handle("/frames", feed)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.RecoveryHandler(handlers.RecoveryLogger(log.StandardLogger()))(
			handlers.LoggingHandler(log.StandardLogger().Writer(), mux)),
	}
	go func() {
		log.Infof("Hosting HTTP API on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server failed: %v", err)
			cancel()
		}
	}()

	if *autostart {
		if err := ctrl.Start(); err != nil {
			log.Errorf("Failed to start streaming: %v", err)
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case c := <-reloads:
			setLogLevel(c)
			src.SetParams(params(c))
			if err := ctrl.Restart(); err != nil {
				log.Errorf("Failed to restart streaming with new config: %v", err)
			}
		case sig := <-sigs:
			log.Infof("Caught signal %v", sig)
			shutdown(srv, ctrl)
			return
		case <-ctx.Done():
			shutdown(srv, ctrl)
			return
		}
	}
}

func shutdown(srv *http.Server, ctrl *serve.Controller) {
	ctrl.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("HTTP server shutdown: %v", err)
	}
}
