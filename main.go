package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sanity-io/litter"

	"puckstorm/client/catalog"
	"puckstorm/client/frame"
	"puckstorm/client/logging"
	"puckstorm/client/logging/sinks"
	"puckstorm/client/timewarp"
)

func main() {
	var addr string
	var seed int64
	flag.StringVar(&addr, "addr", ":8080", "listen address for the diagnostics server")
	flag.Int64Var(&seed, "seed", 1, "seed for the synthetic server")
	flag.Parse()

	manifest, err := catalog.Load(manifestPaths()...)
	if err != nil {
		log.Fatalf("failed to load tracked-type manifest: %v", err)
	}
	cfg := applyEnvOverrides(manifest.WorldConfig())

	router, err := logging.NewRouter(nil, loggingConfig(), buildSinks())
	if err != nil {
		log.Fatalf("failed to start log router: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		router.Close(ctx)
	}()
	publisher := logging.WithFields(router, map[string]any{"service": "puckstorm-client"})

	telemetry := newTelemetryCounters()
	testbed := newTestbed(cfg, seed, publisher, manifest)
	hub := newHub(testbed, telemetry)

	stop := make(chan struct{})
	go hub.RunSimulation(stop)
	defer close(stop)

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	http.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		payload := struct {
			Status string              `json:"status"`
			State  stateMessage        `json:"state"`
			Router logging.RouterStats `json:"router"`
			Window uint64              `json:"rollbackWindow"`
		}{
			Status: "ok",
			State:  hub.DiagnosticsSnapshot(),
			Router: router.Stats(),
			Window: uint64(cfg.RollbackWindow),
		}

		data, err := json.Marshal(payload)
		if err != nil {
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	http.HandleFunc("/diagnostics/dump", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(litter.Sdump(hub.DiagnosticsSnapshot())))
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade failed: %v", err)
			return
		}

		id := hub.Subscribe(conn)
		defer hub.Unsubscribe(id)

		// Inspectors are read-only; drain until the peer goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	log.Printf("diagnostics server listening on %s (window=%d strategy=%s)", addr, cfg.RollbackWindow, cfg.ConsolidationStrategy)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func manifestPaths() []string {
	paths := catalog.DefaultPaths()
	if extra := strings.TrimSpace(os.Getenv("TIMEWARP_MANIFEST")); extra != "" {
		paths = append(paths, extra)
	}
	return paths
}

// applyEnvOverrides lets ops tweak the manifest settings without editing it.
func applyEnvOverrides(cfg timewarp.Config) timewarp.Config {
	if raw := os.Getenv("ROLLBACK_WINDOW"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 32); err == nil && v > 0 {
			cfg.RollbackWindow = frame.Number(v)
		} else {
			log.Printf("ignoring invalid ROLLBACK_WINDOW=%q", raw)
		}
	}
	if raw := os.Getenv("CONSOLIDATION_STRATEGY"); raw != "" {
		switch timewarp.ConsolidationStrategy(raw) {
		case timewarp.ConsolidateOldest, timewarp.ConsolidateNewest:
			cfg.ConsolidationStrategy = timewarp.ConsolidationStrategy(raw)
		default:
			log.Printf("ignoring invalid CONSOLIDATION_STRATEGY=%q", raw)
		}
	}
	if os.Getenv("FORCE_ROLLBACK") == "1" {
		cfg.ForceRollback = true
	}
	if cfg.RollbackWindow == 0 {
		cfg.RollbackWindow = 16
	}
	return cfg
}

func loggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if raw := strings.TrimSpace(os.Getenv("LOG_SINKS")); raw != "" {
		cfg.EnabledSinks = strings.Split(raw, ",")
	}
	if os.Getenv("LOG_DEBUG") == "1" {
		cfg.MinimumSeverity = logging.SeverityDebug
	}
	return cfg
}

func buildSinks() []logging.NamedSink {
	cfg := loggingConfig()
	named := make([]logging.NamedSink, 0, len(cfg.EnabledSinks))
	for _, name := range cfg.EnabledSinks {
		switch strings.TrimSpace(name) {
		case "console":
			named = append(named, logging.NamedSink{Name: "console", Sink: sinks.NewConsoleSink(os.Stdout, cfg.Console)})
		case "json":
			path := os.Getenv("LOG_JSON_PATH")
			if path == "" {
				path = "netcode.ndjson"
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				log.Printf("cannot open %s, skipping json sink: %v", path, err)
				continue
			}
			named = append(named, logging.NamedSink{Name: "json", Sink: sinks.NewJSON(file, cfg.JSON.FlushInterval)})
		case "memory":
			named = append(named, logging.NamedSink{Name: "memory", Sink: sinks.NewMemorySink()})
		default:
			log.Printf("unknown log sink %q", name)
		}
	}
	return named
}
