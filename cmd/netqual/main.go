package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/locate/api/locate"

	"github.com/m-lab/netqual/internal/feed"
	"github.com/m-lab/netqual/pkg/monitor"
	"github.com/m-lab/netqual/pkg/netqual"
	"github.com/m-lab/netqual/pkg/version"
)

const clientName = "netqual"

var (
	flagTargets    = flagx.StringArray{}
	flagInterval   = flag.Duration("interval", monitor.DefaultInterval, "Expected time between two measurement cycles")
	flagCycles     = flag.Int("cycles", 0, "Number of cycles per target (0 means until interrupted)")
	flagThreshold  = flag.Float64("threshold", netqual.DefaultLatencyThreshold, "Latency alert threshold in milliseconds")
	flagDNSServer  = flag.String("dns-server", "", "DNS server (host[:port]) to query instead of the system resolver")
	flagPrivileged = flag.Bool("privileged", false, "Use raw ICMP sockets for ping")
	flagNoVerify   = flag.Bool("no-verify", false, "Skip TLS certificate verification")
	flagDataDir    = flag.String("datadir", "", "Directory to archive measurements in (disabled if empty)")
	flagJSON       = flag.Bool("json", false, "Print events as JSON lines")
	flagFeed       = flag.String("feed", "", "Listen address for the WebSocket event feed (disabled if empty)")
	flagLocate     = flag.String("locate", "", "Locate service to find the nearest target with when no target is given, e.g. ndt/ndt7")
	flagSessionTTL = flag.Duration("session-ttl", 0, "Maximum lifetime of each monitoring session (0 means unlimited)")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
)

func init() {
	flag.Var(&flagTargets, "target", "Target URL to monitor (can be repeated)")
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")

	log.SetReportTimestamp(true)
	log.SetReportCaller(*flagDebug)
	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("Starting netqual", "version", version.Version, "commit", version.GitShortCommit)

	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	targets := append([]string{}, flagTargets...)
	targets = append(targets, flag.Args()...)
	if len(targets) == 0 && *flagLocate != "" {
		lc := locate.NewClient(clientName + "/" + version.Version)
		t, err := monitor.NearestTarget(ctx, lc, *flagLocate)
		rtx.Must(err, "Could not find a target with locate")
		log.Info("Using nearest target", "target", t)
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		log.Fatal("No targets given: use -target, positional arguments or -locate")
	}

	emitters := monitor.Multi{}
	if *flagJSON {
		emitters = append(emitters, &monitor.JSONLines{W: os.Stdout})
	} else {
		emitters = append(emitters, monitor.HumanReadable{Debug: *flagDebug})
	}
	if *flagDataDir != "" {
		emitters = append(emitters, monitor.NewArchiver(*flagDataDir))
	}
	if *flagFeed != "" {
		hub := feed.NewHub()
		defer hub.Close()
		mux := http.NewServeMux()
		mux.Handle("/events", hub)
		feedSrv := &http.Server{
			Addr:              *flagFeed,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		defer feedSrv.Close()
		go func() {
			log.Info("About to serve the event feed", "addr", *flagFeed)
			if err := feedSrv.ListenAndServe(); err != http.ErrServerClosed {
				rtx.Must(err, "Could not start the event feed server")
			}
		}()
		emitters = append(emitters, hub.Emitter())
	}

	config := netqual.DefaultConfig()
	config.DNSServer = *flagDNSServer
	config.PrivilegedPing = *flagPrivileged
	config.NoVerify = *flagNoVerify

	registry := netqual.NewRegistry(config, *flagSessionTTL)
	defer registry.Close()

	var wg sync.WaitGroup
	for _, t := range targets {
		m := monitor.New(registry.Start(t), monitor.Config{
			Interval:         *flagInterval,
			Cycles:           *flagCycles,
			LatencyThreshold: *flagThreshold,
			Emitter:          emitters,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			rtx.Must(m.Run(ctx), "Invalid monitor configuration")
		}()
	}
	wg.Wait()
	registry.StopAll()
}
