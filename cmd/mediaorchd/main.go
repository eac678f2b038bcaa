// Command mediaorchd is the orchestrator daemon: it wires the config, the
// task store, the blob gateway, the message bus, the admission HTTP surface,
// the result aggregator and the notifier into one running process (spec §1,
// §5).
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NVIDIA/mediaorch/admission"
	"github.com/NVIDIA/mediaorch/aggregator"
	"github.com/NVIDIA/mediaorch/blob"
	"github.com/NVIDIA/mediaorch/bus"
	"github.com/NVIDIA/mediaorch/cmn/config"
	"github.com/NVIDIA/mediaorch/cmn/nlog"
	"github.com/NVIDIA/mediaorch/notify"
	"github.com/NVIDIA/mediaorch/retention"
	"github.com/NVIDIA/mediaorch/task/buntstore"
	"golang.org/x/sync/errgroup"
)

// shutdownGrace bounds how long the HTTP server waits for in-flight
// requests to finish on shutdown. Outbound callbacks are not covered: they
// run under the subscription context, which is cancelled at the signal, so
// a callback in flight at shutdown gets no grace window.
const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", "mediaorch.json", "path to the JSON config file")
	flag.Parse()

	cfgHolder, err := config.Load(*configPath)
	if err != nil {
		nlog.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgHolder.Get()
	nlog.SetVerbosity(cfg.Verbosity)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	if err := cfgHolder.Watch(stopWatch); err != nil {
		nlog.Warningf("config hot-reload disabled: %v", err)
	}

	store, err := buntstore.Open(cfg.Store.Path)
	if err != nil {
		nlog.Errorf("failed to open task store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	blobStore, err := blob.NewFromConfig(ctx, cfg.Blob)
	if err != nil {
		nlog.Errorf("failed to initialize blob store: %v", err)
		os.Exit(1)
	}
	keys := blob.KeyLayout{Base: cfg.Blob.KeyBase}

	var msgBus bus.Bus
	if cfg.DisableBus {
		nlog.Infoln("disable_bus set, using in-process bus")
		msgBus = bus.NewInmemBus()
	} else {
		rb, err := bus.DialRabbit(cfg.Bus.URL)
		if err != nil {
			nlog.Errorf("failed to connect to message bus: %v", err)
			os.Exit(1)
		}
		msgBus = rb
	}
	defer msgBus.Close()

	notifier := notify.New(msgBus, cfgHolder)
	ctl := admission.NewController(store, blobStore, msgBus, cfgHolder, keys)
	retMgr := retention.New(store, blobStore, msgBus, notifier, cfgHolder, keys)
	agg := aggregator.New(store, msgBus, notifier, cfgHolder)

	srv := admission.NewServer(ctl, retMgr, store)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Routes()}

	group, gctx := errgroup.WithContext(ctx)
	inflight := cfg.Bus.InflightPerSubscription

	group.Go(func() error { return ctl.RunListener(gctx, inflight) })
	group.Go(func() error { return agg.RunProfileResults(gctx, inflight) })
	group.Go(func() error { return agg.RunFaceResults(gctx, inflight) })
	group.Go(func() error {
		nlog.Infoln("serving HTTP on", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		nlog.Errorf("mediaorchd exited with error: %v", err)
		os.Exit(1)
	}
	nlog.Infoln("mediaorchd shut down cleanly")
}
