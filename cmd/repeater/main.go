package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/matst80/vncrepeater/internal/obs"
	"github.com/matst80/vncrepeater/internal/proto"
	"github.com/matst80/vncrepeater/internal/ratelimit"
)

var metricsOnce sync.Once

func main() {
	flag.Parse()
	if err := cfg.applyFile(explicitFlags()); err != nil {
		obs.Error("config.file", obs.Fields{"err": err.Error()})
		os.Exit(2)
	}
	if err := cfg.validate(); err != nil {
		obs.Error("config.invalid", obs.Fields{"err": err.Error()})
		os.Exit(2)
	}
	if err := obs.SetSink(cfg.LogFile); err != nil {
		obs.Error("config.logfile", obs.Fields{"err": err.Error()})
		os.Exit(2)
	}
	if cfg.Debug {
		obs.EnableDebug(true)
	}

	if cfg.Loop == "BG" && !detached() {
		if err := respawnDetached(); err != nil {
			obs.Error("supervisor.detach", obs.Fields{"err": err.Error()})
			os.Exit(1)
		}
		return
	}

	if err := writePidFile(cfg.PidFile); err != nil {
		obs.Error("pidfile.write", obs.Fields{"path": cfg.PidFile, "err": err.Error()})
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := 0
	if cfg.Loop != "" {
		code = superviseLoop(ctx)
	} else {
		code = serve(ctx)
	}
	stop()
	removePidFile(cfg.PidFile)
	os.Exit(code)
}

// serve runs one dispatcher generation: bind, accept, rendezvous, until the
// context is cancelled. Returns 0 on clean shutdown, 2 on a fatal setup
// error, 1 on a dispatcher crash (respawnable in loop mode).
func serve(ctx context.Context) (code int) {
	defer func() {
		if r := recover(); r != nil {
			obs.Error("dispatcher.panic", obs.Fields{"panic": r})
			code = 1
		}
	}()

	obs.Info("repeater.start", obs.Fields{
		"client_port": cfg.ClientPort, "server_port": cfg.ServerPort,
		"bufsize": cfg.BufSize, "refuse": cfg.Refuse, "clean": cfg.Clean,
		"metrics": cfg.MetricsAddr,
	})

	state, err := newStateStore(&cfg)
	if err != nil {
		obs.Error("state.init", obs.Fields{"err": err.Error()})
		return 2
	}
	clientLns, err := bindPort(cfg.ClientPort)
	if err != nil {
		obs.Error("listen.client", obs.Fields{"err": err.Error()})
		return 2
	}
	defer closeAll(clientLns)
	serverLns, err := bindPort(cfg.ServerPort)
	if err != nil {
		obs.Error("listen.server", obs.Fields{"err": err.Error()})
		return 2
	}
	defer closeAll(serverLns)

	metricsOnce.Do(func() { go startMetricsServer(cfg.MetricsAddr, state) })

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if rs, ok := state.(*redisState); ok {
		go rs.startMaintenance(runCtx)
	}

	var limiter *ratelimit.AcceptLimiter
	if cfg.ConnRate > 0 || cfg.PeerConnRate > 0 {
		limiter = ratelimit.NewAcceptLimiter(cfg.ConnRate, cfg.PeerConnRate, cfg.ConnBurst)
	}

	d := newDispatcher(&cfg, state)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); d.run(runCtx) }()
	for _, ln := range clientLns {
		ln := ln
		wg.Add(1)
		go func() { defer wg.Done(); acceptLoop(runCtx, ln, proto.RoleClient, d, limiter) }()
	}
	for _, ln := range serverLns {
		ln := ln
		wg.Add(1)
		go func() { defer wg.Done(); acceptLoop(runCtx, ln, proto.RoleServer, d, limiter) }()
	}

	state.setReady(true)
	obs.Info("repeater.ready", obs.Fields{})

	<-ctx.Done()
	obs.Info("repeater.shutdown.signal", obs.Fields{})
	state.setClosing(true)
	closeAll(clientLns)
	closeAll(serverLns)
	cancel()
	wg.Wait()
	obs.Info("repeater.shutdown.complete", obs.Fields{})
	return 0
}

func closeAll(lns []net.Listener) {
	for _, ln := range lns {
		_ = ln.Close()
	}
}
