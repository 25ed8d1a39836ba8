package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jamesprial/storegate/internal/config"
	"github.com/jamesprial/storegate/internal/container"
	"github.com/jamesprial/storegate/internal/gateway"
	"github.com/joho/godotenv"
)

// Build-time variables (set by ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func run() error {
	// A missing .env file is not an error
	_ = godotenv.Load()

	configPath, explicit := os.LookupEnv("CONFIG_PATH")
	if !explicit || configPath == "" {
		configPath, explicit = "config.yaml", false
	}

	// Create dependency injection container; the logger is built from config
	cont := container.New()
	cont.SetConfigLoader(config.NewLoader(configPath, explicit))

	// Initialize all dependencies
	if err := cont.Initialize(); err != nil {
		return err
	}
	logger := cont.Logger()

	// Create gateway service
	gatewayService := gateway.NewService(cont)

	// Start the gateway
	if err := gatewayService.Start(); err != nil {
		return err
	}

	logger.Info("Storefront gateway started successfully", map[string]any{
		"config_path": configPath,
		"addr":        gatewayService.Addr(),
		"version":     Version,
	})

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("Shutdown signal received", map[string]any{"signal": sig.String()})

	// Graceful shutdown
	return gatewayService.Stop()
}

func main() {
	// Parse command line flags
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("Storegate API Gateway\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		return
	}

	// Show help and exit
	if *showHelp {
		fmt.Println("Storegate API Gateway - single entry point for the storefront services")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Printf("  %s [options]\n", os.Args[0])
		fmt.Println()
		fmt.Println("Options:")
		fmt.Println("  -help         Show help information")
		fmt.Println("  -version      Show version information")
		fmt.Println()
		fmt.Println("Environment Variables:")
		fmt.Println("  CONFIG_PATH                Path to configuration file (default: config.yaml)")
		fmt.Println("  PORT, GATEWAY_LISTEN_PORT  Listen port (default: 8080)")
		fmt.Println("  <ROUTE>_SERVICE_HOST/PORT  Override a route target, e.g. CART_SERVICE_HOST")
		fmt.Println("  LOG_LEVEL, JWT_SECRET      Override log level and token secret")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Printf("  %s                    # Start the gateway\n", os.Args[0])
		fmt.Printf("  CONFIG_PATH=/etc/storegate/config.yaml %s\n", os.Args[0])
		return
	}

	log.Printf("Storegate API Gateway %s (built %s)", Version, BuildTime)

	if err := run(); err != nil {
		log.Fatalf("failed to run gateway: %v", err)
	}
}
