package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chatlink/relay-node/pkg/network"
	"github.com/chatlink/relay-node/pkg/network/api"
	"github.com/chatlink/relay-node/pkg/storage"
)

const (
	defaultPort       = 9000
	defaultAPIPort    = 8080
	defaultDBPath     = "./data/accounts.db"
	heartbeatInterval = 5 * time.Minute
)

var (
	port      = flag.Int("port", defaultPort, "Relay port to listen on")
	dbPath    = flag.String("db", defaultDBPath, "Path to the account database")
	apiPort   = flag.Int("api-port", defaultAPIPort, "HTTP monitor port")
	enableAPI = flag.Bool("api", true, "Enable the HTTP monitor")
)

func main() {
	flag.Parse()

	printBanner()

	// Open the account database (seeds default accounts on first run)
	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	creds, err := storage.NewCredentialStore(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open credential store: %v", err)
	}
	log.Printf("✓ Account database ready at %s", *dbPath)

	// Relay and monitor reference each other (the monitor serves relay
	// stats, the relay pushes events to the monitor), so wire the relay
	// first with the monitor chain filled in afterwards via MultiMonitor.
	monitor := network.MultiMonitor{network.LogMonitor{}}
	relay := network.NewRelayServer(*port, creds, &monitor)

	var monitorServer *api.Server
	if *enableAPI {
		config := api.DefaultConfig()
		config.Port = *apiPort
		monitorServer = api.NewServer(relay, config)
		monitor = append(monitor, monitorServer)
	}

	if err := relay.Start(); err != nil {
		log.Fatalf("Failed to start relay server: %v", err)
	}
	log.Printf("✓ Relay server listening on port %d", *port)

	apiCtx, apiCancel := context.WithCancel(context.Background())
	defer apiCancel()
	if monitorServer != nil {
		go func() {
			if err := monitorServer.Start(apiCtx); err != nil {
				log.Printf("Monitor server stopped with error: %v", err)
			}
		}()
		log.Printf("✓ HTTP monitor listening on port %d", *apiPort)
	} else {
		log.Println("⚠️  HTTP monitor disabled")
	}

	go startHeartbeatLoop(relay)

	waitForShutdown(relay, monitorServer, creds, apiCancel)
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║              Chatlink Relay Node v1.0             ║")
	fmt.Println("║        Broadcast & private message routing        ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func startHeartbeatLoop(relay *network.RelayServer) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		stats := relay.Stats()

		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("💓 Heartbeat")
		log.Printf("   Connected clients: %v", stats["connected_clients"])
		log.Printf("   Packets relayed: %v", stats["packets_relayed"])
		log.Printf("   Uptime: %vs", stats["uptime_seconds"])
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

func waitForShutdown(relay *network.RelayServer, monitorServer *api.Server, creds *storage.CredentialStore, apiCancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan

	fmt.Println()
	log.Println("Shutting down gracefully...")

	if err := relay.Stop(); err != nil {
		log.Printf("Error stopping relay: %v", err)
	} else {
		log.Println("✓ Relay server stopped")
	}

	apiCancel()
	if monitorServer != nil {
		if err := monitorServer.Stop(); err != nil {
			log.Printf("Error stopping monitor: %v", err)
		} else {
			log.Println("✓ HTTP monitor stopped")
		}
	}

	if err := creds.Close(); err != nil {
		log.Printf("Error closing credential store: %v", err)
	} else {
		log.Println("✓ Credential store closed")
	}

	log.Println("Goodbye! 👋")
	os.Exit(0)
}
