package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/greenwave/internal/api"
	"github.com/banshee-data/greenwave/internal/config"
	"github.com/banshee-data/greenwave/internal/coordinator"
	"github.com/banshee-data/greenwave/internal/db"
	"github.com/banshee-data/greenwave/internal/eventlog"
	"github.com/banshee-data/greenwave/internal/httputil"
	"github.com/banshee-data/greenwave/internal/ingest"
	"github.com/banshee-data/greenwave/internal/notify"
	"github.com/banshee-data/greenwave/internal/stream"
	"github.com/banshee-data/greenwave/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc-listen", stream.DefaultConfig().ListenAddr, "gRPC feed listen address (empty to disable)")
	grpcClients = flag.Int("grpc-max-clients", stream.DefaultConfig().MaxClients, "Maximum concurrent gRPC feed streams (0 for no limit)")
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the engine configuration JSON")
	dbPath      = flag.String("db-path", db.DefaultPath, "Path to the SQLite event log (empty keeps events in memory)")
	udpListen   = flag.String("udp-listen", ":7700", "Detector UDP listen address (empty to disable)")
	serialPort  = flag.String("serial-port", "", "Detector serial port, e.g. /dev/ttyUSB0 (empty to disable)")
	serialBaud  = flag.Int("serial-baud", 115200, "Detector serial baud rate")
	pcapFile    = flag.String("pcap", "", "Replay a detector capture through the engine")
	pcapPort    = flag.Int("pcap-port", 7700, "UDP destination port to replay from the capture (0 for all)")
	pcapSpeed   = flag.Float64("pcap-speed", 1, "Capture replay speed; 0 replays as fast as possible")
	notifierURL = flag.String("notifier-url", "", "Operator webhook URL (overrides the configuration)")
	versionFlag = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [migrate <action>]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String())
		return
	}

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			return
		default:
			flag.Usage()
			os.Exit(2)
		}
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

func run(ctx context.Context) error {
	cfg, err := config.LoadEngineConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log.Printf("%s: loaded %d intersections from %s", version.String(), len(cfg.Intersections), *configPath)

	var (
		database *db.DB
		events   eventlog.Log = eventlog.NewMemory()
	)
	if *dbPath != "" {
		database, err = db.NewDB(*dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		events = &eventlog.Tee{Durable: db.NewEventStore(database), Cache: eventlog.NewMemory()}
	}

	coord, err := coordinator.New(cfg, coordinator.Deps{Log: events})
	if err != nil {
		return err
	}
	decoder := ingest.Decoder{Priority: cfg.ResolvePriority}
	handler := ingest.NewHandler(coord, decoder, time.Now)

	opts := api.Options{Decoder: decoder}
	if database != nil {
		opts.Alerts = database
	}
	apiServer := api.NewServer(coord, opts)
	mux := apiServer.ServeMux()
	apiServer.AttachDebugRoutes(mux)
	if database != nil {
		if err := database.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := coord.Run(gctx)
		// Ends every stream and subscriber loop below.
		coord.Close()
		return err
	})

	g.Go(func() error {
		return api.ListenAndServe(gctx, *listen, api.LoggingMiddleware(mux))
	})

	if *grpcListen != "" {
		feed := stream.NewServer(coord, stream.Config{ListenAddr: *grpcListen, MaxClients: *grpcClients})
		g.Go(func() error { return feed.ListenAndServe(gctx) })
	}

	if database != nil {
		id, ch := coord.AlertHub().Subscribe()
		g.Go(func() error {
			defer coord.AlertHub().Unsubscribe(id)
			return database.RecordAlerts(gctx, ch)
		})
	}

	if url := resolveNotifierURL(*notifierURL, cfg); url != "" {
		hook := notify.NewWebhook(url, httputil.NewStandardClient(10*time.Second))
		id, ch := coord.AlertHub().Subscribe()
		g.Go(func() error {
			defer coord.AlertHub().Unsubscribe(id)
			return hook.Run(gctx, ch)
		})
		log.Printf("notifying operators at %s", url)
	}

	if *udpListen != "" {
		udp := ingest.NewUDPListener(*udpListen)
		g.Go(func() error { return udp.Start(gctx, handler) })
	}

	if *serialPort != "" {
		src := ingest.SerialSource{Path: *serialPort, Options: ingest.PortOptions{BaudRate: *serialBaud}}
		g.Go(func() error { return src.Run(gctx, handler) })
	}

	if *pcapFile != "" {
		replay := ingest.Replay{Port: *pcapPort, Speed: *pcapSpeed, RebaseTo: time.Now}
		g.Go(func() error {
			st, err := replay.ReplayFile(gctx, *pcapFile, handler)
			if err != nil {
				return err
			}
			log.Printf("pcap replay finished: %d packets, %d payloads, %d rejected", st.Packets, st.Payloads, st.Rejected)
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		// Transports report the shutdown itself as their exit error.
		err = nil
	}
	st := handler.Stats()
	log.Printf("ingest totals: %d densities, %d claims, %d rejected", st.Densities, st.Claims, st.Rejected)
	return err
}

// resolveNotifierURL prefers the command line over the configuration.
func resolveNotifierURL(flagValue string, cfg *config.EngineConfig) string {
	if flagValue != "" {
		return flagValue
	}
	return cfg.GetNotifierURL()
}
