package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mongotap/mongotap/broker"
	"github.com/mongotap/mongotap/correlate"
	"github.com/mongotap/mongotap/detect"
	"github.com/mongotap/mongotap/document"
	"github.com/mongotap/mongotap/humanlog"
	"github.com/mongotap/mongotap/inproxy"
	"github.com/mongotap/mongotap/listener"
	"github.com/mongotap/mongotap/web"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("mongotapd", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "mongotapd — transparent MongoDB wire-protocol proxy\n\nUsage:\n  mongotapd [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	listen := fs.String("listen", "localhost:37017", "client listen address")
	upstream := fs.String("upstream", "localhost:27017", "upstream mongod/mongos address")
	httpAddr := fs.String("http", "", "HTTP server address for the web viewer (e.g. :8080)")
	burstThreshold := fs.Int("burst-threshold", 5, "repeated-shape burst detection threshold (0 to disable)")
	burstWindow := fs.Duration("burst-window", time.Second, "burst detection time window")
	burstCooldown := fs.Duration("burst-cooldown", 10*time.Second, "burst alert cooldown per namespace+shape")
	rawLog := fs.Bool("raw-log", false, "log the decoded shape of every request and its timing")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("mongotapd %s\n", version)
		return
	}

	err := run(*listen, *upstream, *httpAddr, *burstThreshold, *burstWindow, *burstCooldown, *rawLog)
	if err != nil {
		log.Fatal(err)
	}
}

func run(
	listen, upstream, httpAddr string,
	burstThreshold int, burstWindow, burstCooldown time.Duration,
	rawLog bool,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := broker.New()
	bus := listener.NewBus()

	if rawLog {
		bus.Register(humanlog.RawListener())
		log.Printf("raw logging enabled")
	}

	if burstThreshold > 0 {
		det := detect.New(burstThreshold, burstWindow, burstCooldown)
		bus.Register(detect.BurstListener(det, func(a detect.Alert) {
			log.Printf("burst detected: %q (%d times in %s)", a.Key, a.Count, burstWindow)
		}))
		log.Printf("burst detection enabled (threshold=%d, window=%s, cooldown=%s)", burstThreshold, burstWindow, burstCooldown)
	}

	if httpAddr != "" {
		var lc net.ListenConfig
		httpLis, err := lc.Listen(ctx, "tcp", httpAddr)
		if err != nil {
			return fmt.Errorf("listen http %s: %w", httpAddr, err)
		}
		webSrv := web.New(b)
		go func() {
			log.Printf("HTTP server listening on %s", httpAddr)
			if err := webSrv.Serve(httpLis); err != nil {
				log.Printf("http serve: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = webSrv.Shutdown(shutdownCtx)
		}()
	}

	p := inproxy.New(listen, upstream, document.BSON, bus)
	p.OnLatency = func(lat correlate.Latency) {
		if rawLog {
			humanlog.OnLatency(lat)
		}
		b.Publish(broker.FromLatency(lat))
	}

	log.Printf("proxying %s -> %s", listen, upstream)
	if err := p.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("inproxy: %w", err)
	}
	return nil
}
