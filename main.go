package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"collabroom-server/config"
	"collabroom-server/coordinator"
	"collabroom-server/handlers/api/rooms"
	"collabroom-server/handlers/websocket"
	"collabroom-server/presence"
	"collabroom-server/registry"
	"collabroom-server/stores"
	"collabroom-server/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

func waitForShutdown(cancel context.CancelFunc, adapter *transport.Adapter) {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
	adapter.Disconnect()
	cancel()
}

func main() {
	logLevel := flag.String("loglevel", "", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", "", "Set the server listen address")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())

	store := stores.GetStore(cfg)
	reg := registry.New()
	tracker := presence.New()

	adapter := transport.New(transport.Options{
		MaxAttempts:  cfg.ConnectAttempts,
		InitialDelay: cfg.ConnectInitialDelay,
	})
	adapter.OnDown(func(err error) {
		logrus.WithError(err).Error("transport down, retries exhausted")
	})
	adapter.SetHandler(websocket.NewCollab(ctx, adapter, tracker, reg, store))

	if err := adapter.Connect(ctx); err != nil {
		logrus.WithError(err).Fatal("failed to connect transport")
	}

	coord := coordinator.New(reg, store, tracker.Emptied(), cfg.FlushRetryDelay)
	coordDone := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(coordDone)
	}()

	r := chi.NewRouter()
	r.Use(middleware.Logger)

	corsOptions := cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}
			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}
			if parsed.Scheme != "http" && parsed.Scheme != "https" {
				return false
			}
			switch parsed.Hostname() {
			case "localhost", "127.0.0.1", "[::1]":
				return true
			}
			return false
		},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	r.Use(cors.Handler(corsOptions))

	r.Get("/api/rooms", rooms.HandleList(tracker, reg))
	r.Route("/api/rooms/{roomId}", func(r chi.Router) {
		r.Get("/content", rooms.HandleGetContent(reg, store))
		r.Get("/snapshots", rooms.HandleListSnapshots(store))
		r.Get("/snapshots/latest", rooms.HandleLatestSnapshot(store))
	})

	r.Handle("/socket.io/", adapter.Handler())

	logrus.WithField("addr", cfg.ListenAddr).Info("starting server")
	go func() {
		if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(cancel, adapter)
	// Let in-flight flushes drain, then stop signal delivery.
	<-coordDone
	tracker.Close()
	logrus.WithFields(logrus.Fields{
		"flushes":  coord.Flushes(),
		"failures": coord.Failures(),
	}).Info("coordinator stopped")
}
