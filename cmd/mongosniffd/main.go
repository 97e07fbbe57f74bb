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
	"github.com/mongotap/mongotap/listener"
	"github.com/mongotap/mongotap/offline"
	"github.com/mongotap/mongotap/web"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("mongosniffd", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "mongosniffd — passive MongoDB wire-protocol capture\n\nUsage:\n  mongosniffd [flags]\n\nExactly one of -device or -file is required.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	device := fs.String("device", "", "network device to capture live from (e.g. eth0)")
	file := fs.String("file", "", "pcap file to replay instead of a live device")
	port := fs.Int("port", 27017, "mongod/mongos port to filter traffic for")
	httpAddr := fs.String("http", "", "HTTP server address for the web viewer (e.g. :8080)")
	watermark := fs.Int("watermark", 0, "reassembly watermark in pending fragments per source (0 uses the default)")
	burstThreshold := fs.Int("burst-threshold", 5, "repeated-shape burst detection threshold (0 to disable)")
	burstWindow := fs.Duration("burst-window", time.Second, "burst detection time window")
	burstCooldown := fs.Duration("burst-cooldown", 10*time.Second, "burst alert cooldown per namespace+shape")
	rawLog := fs.Bool("raw-log", false, "log the decoded shape of every request and its timing")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("mongosniffd %s\n", version)
		return
	}

	if (*device == "") == (*file == "") {
		fs.Usage()
		os.Exit(1)
	}

	err := run(*device, *file, *port, *httpAddr, *watermark, *burstThreshold, *burstWindow, *burstCooldown, *rawLog)
	if err != nil {
		log.Fatal(err)
	}
}

func run(
	device, file string, port int, httpAddr string, watermark int,
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

	d := &offline.Driver{
		Docs:      document.BSON,
		Bus:       bus,
		Watermark: watermark,
		OnLatency: func(lat correlate.Latency) {
			if rawLog {
				humanlog.OnLatency(lat)
			}
			b.Publish(broker.FromLatency(lat))
		},
	}

	if device != "" {
		log.Printf("capturing live on %s, port %d", device, port)
		if err := d.RunLive(ctx, device, port); err != nil {
			return fmt.Errorf("offline: %w", err)
		}
		return nil
	}

	log.Printf("replaying %s, port %d", file, port)
	if err := d.RunFile(ctx, file, port); err != nil {
		return fmt.Errorf("offline: %w", err)
	}
	return nil
}
