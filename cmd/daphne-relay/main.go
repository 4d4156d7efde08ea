package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cvsouth/daphne/daphnelog"
	"github.com/cvsouth/daphne/rendezvous"
	"github.com/cvsouth/daphne/tlsconfig"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	addr := flag.String("addr", ":49870", "address to listen on")
	certPath := flag.String("cert", "relay.crt", "path to the TLS certificate")
	keyPath := flag.String("key", "relay.key", "path to the TLS private key")
	logPath := flag.String("log", "daphne-relay-debug.log", "path to the JSON debug log")
	flag.Parse()

	logger, logFile := setupLogging(*logPath)
	defer func() { _ = logFile.Close() }()

	fmt.Printf("=== daphne-relay %s ===\n", Version)

	tlsCfg, err := tlsconfig.ServerConfig(*certPath, *keyPath)
	if err != nil {
		fmt.Printf("failed to load TLS certificate: %v\n", err)
		os.Exit(1)
	}

	ln, err := tls.Listen("tcp", *addr, tlsCfg)
	if err != nil {
		fmt.Printf("failed to listen on %s: %v\n", *addr, err)
		os.Exit(1)
	}

	srv := rendezvous.NewServer(logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
		_ = srv.Close()
	}()

	fmt.Printf("Ready. Listening on %s\n", *addr)
	if err := srv.Serve(ctx, ln); err != nil {
		fmt.Printf("relay server error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(logPath string) (*slog.Logger, *os.File) {
	logger, logFile, err := daphnelog.Setup(logPath, slog.LevelInfo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	return logger, logFile
}
