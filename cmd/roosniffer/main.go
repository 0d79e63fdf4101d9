package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roosniffer/roosniffer/internal/buildinfo"
	"github.com/roosniffer/roosniffer/internal/ca"
	"github.com/roosniffer/roosniffer/internal/config"
	"github.com/roosniffer/roosniffer/internal/proxy"
	"github.com/roosniffer/roosniffer/internal/sink"
	"github.com/roosniffer/roosniffer/internal/structuredstore"
	"github.com/roosniffer/roosniffer/internal/watch"
)

func main() {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fatalf("%v", err)
	}
	cfg, err := config.LoadFileOverlay(os.Getenv("ROO_CONFIG_FILE"), envCfg)
	if err != nil {
		fatalf("%v", err)
	}

	log.Printf("roo-sniffer %s (%s, built %s) starting", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)

	authority, err := ca.LoadOrInit(cfg.CertDir)
	if err != nil {
		fatalf("certificate authority: %v", err)
	}
	log.Printf("ca: root certificate available at %s", authority.CACertPath())

	watchRuntime := watch.NewRuntime(cfg.WatchDomains)
	log.Printf("watch: %d domain(s) configured", len(cfg.WatchDomains))

	obsSink, err := sink.New(cfg.LogPath)
	if err != nil {
		fatalf("observation sink: %v", err)
	}
	if err := obsSink.StartRotation(cfg.LogRotateSchedule); err != nil {
		fatalf("log rotation schedule: %v", err)
	}
	log.Printf("sink: writing observations to %s (rotate %q)", cfg.LogPath, cfg.LogRotateSchedule)

	var structuredSvc *structuredstore.Service
	var structuredRepo *structuredstore.Repo
	if cfg.StructuredLogDir != "" {
		structuredRepo, err = structuredstore.OpenRepo(cfg.StructuredLogDir)
		if err != nil {
			fatalf("structured store: %v", err)
		}
		structuredSvc = structuredstore.NewService(structuredstore.ServiceConfig{
			Repo:          structuredRepo,
			QueueSize:     cfg.SubscriberBufferSize,
			FlushInterval: cfg.StructuredFlushInterval.Std(),
		})
		structuredSvc.Start()
		obsSink.Subscribe(structuredSvc)
		log.Printf("structuredstore: secondary store active at %s", cfg.StructuredLogDir)
	}

	forward := proxy.NewForward(watchRuntime, obsSink, cfg.Verbose)
	tunneler := proxy.NewTunneler(obsSink)
	mitm := proxy.NewMITMBridge(authority, obsSink, cfg.Verbose)
	dispatcher := proxy.NewDispatcher(forward, tunneler, mitm, watchRuntime)

	listenAddr := fmt.Sprintf(":%d", cfg.ListenPort)
	ln, err := proxy.Listen(listenAddr)
	if err != nil {
		if errors.Is(err, proxy.ErrPortInUse) {
			fatalf("%v", err)
		}
		fatalf("listen %s: %v", listenAddr, err)
	}

	httpSrv := &http.Server{Handler: dispatcher}
	serverErrCh := make(chan error, 1)
	go func() {
		log.Printf("proxy listening on %s", listenAddr)
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runtimeErr error
	select {
	case sig := <-quit:
		log.Printf("received signal %s, shutting down...", sig)
	case runtimeErr = <-serverErrCh:
		log.Printf("server error (%v), shutting down...", runtimeErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("proxy shutdown error: %v", err)
	}
	log.Println("proxy stopped accepting connections")

	if structuredSvc != nil {
		structuredSvc.Stop()
		log.Println("structured store service stopped")
		if err := structuredRepo.Close(); err != nil {
			log.Printf("structured store repo close error: %v", err)
		}
	}
	if err := obsSink.Close(); err != nil {
		log.Printf("sink close error: %v", err)
	}
	log.Println("shutdown complete")

	if runtimeErr != nil {
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(1)
}
