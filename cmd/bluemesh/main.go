// Command bluemesh is a reference BlueMesh node implementation.
//
// This command runs a complete mesh node with:
//   - CLI argument parsing
//   - Configuration file support
//   - Adaptive peer discovery over mDNS
//   - TTL-bounded message flooding
//   - Interactive chat interface
//   - Binary event logging
//
// Usage:
//
//	bluemesh [flags]
//
// Flags:
//
//	-name string       Display name advertised to peers (default hostname)
//	-config string     Configuration file path (YAML)
//	-transport string  Transport: lan, loopback (default "lan")
//	-port int          TCP listen port, 0 picks an ephemeral port
//	-iface string      Restrict mDNS to one network interface
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-log-file string   Write binary event log to this file
//	-no-auto-connect   Do not connect to discovered peers automatically
//	-interactive       Enable interactive command mode (default true)
//
// Examples:
//
//	# Start a node with the hostname as display name
//	bluemesh
//
//	# Start a named node with an event log
//	bluemesh -name "kitchen" -log-file kitchen.blog
//
//	# Start a node that only connects on explicit command
//	bluemesh -no-auto-connect -log-level debug
//
//	# Start with a config file
//	bluemesh -config /etc/bluemesh/node.yaml
//
// Interactive Commands:
//
//	send <text>       - Send a message to the mesh
//	peers             - List discovered peers
//	links             - List active connections
//	scan              - Run one discovery cycle now
//	connect <addr>    - Connect to a peer by address
//	disconnect <addr> - Drop the connection to a peer
//	recent            - Show the recent message buffer
//	status            - Show node status
//	stats             - Show engine counters
//	quit              - Exit the node
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/bluemesh-protocol/bluemesh-go/cmd/bluemesh/interactive"
	meshlog "github.com/bluemesh-protocol/bluemesh-go/pkg/log"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/service"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/transport"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/wire"
)

// Config holds the node configuration.
type Config struct {
	ConfigFile    string
	DisplayName   string
	Transport     string
	Port          int
	Interface     string
	LogLevel      string
	LogFile       string
	NoAutoConnect bool
	Interactive   bool
}

// fileConfig is the YAML shape of -config files. Flags that were set
// explicitly on the command line win over file values.
type fileConfig struct {
	Name        string `yaml:"name"`
	Transport   string `yaml:"transport"`
	Port        int    `yaml:"port"`
	Interface   string `yaml:"interface"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	AutoConnect *bool  `yaml:"auto_connect"`
}

var config Config

func init() {
	flag.StringVar(&config.DisplayName, "name", "", "Display name advertised to peers (default hostname)")
	flag.StringVar(&config.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&config.Transport, "transport", "lan", "Transport: lan, loopback")
	flag.IntVar(&config.Port, "port", 0, "TCP listen port, 0 picks an ephemeral port")
	flag.StringVar(&config.Interface, "iface", "", "Restrict mDNS to one network interface")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.LogFile, "log-file", "", "Write binary event log to this file")
	flag.BoolVar(&config.NoAutoConnect, "no-auto-connect", false, "Do not connect to discovered peers automatically")
	flag.BoolVar(&config.Interactive, "interactive", true, "Enable interactive command mode")
}

func main() {
	flag.Parse()

	// Setup logging
	setupLogging(config.LogLevel)

	if config.ConfigFile != "" {
		if err := loadConfigFile(config.ConfigFile); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}
	applyDefaults()

	log.Println("BlueMesh Node")
	log.Println("=============")
	log.Printf("Name: %s", config.DisplayName)
	log.Printf("Transport: %s", config.Transport)

	// Event logger
	var sinks []meshlog.Logger
	if config.LogFile != "" {
		fl, err := meshlog.NewFileLogger(config.LogFile)
		if err != nil {
			log.Fatalf("Failed to open event log: %v", err)
		}
		defer fl.Close()
		sinks = append(sinks, fl)
		log.Printf("Event log: %s", config.LogFile)
	}
	if config.LogLevel == "debug" {
		// Engine events on the console at debug level.
		slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		sinks = append(sinks, meshlog.NewSlogAdapter(slogger))
	}

	var eventLogger meshlog.Logger = meshlog.NoopLogger{}
	switch len(sinks) {
	case 0:
	case 1:
		eventLogger = sinks[0]
	default:
		eventLogger = meshlog.NewMultiLogger(sinks...)
	}

	// Transport
	tr, err := buildTransport(eventLogger)
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}
	log.Printf("Local address: %s", tr.LocalAddr())

	// Mesh engine
	svcConfig := service.DefaultConfig()
	svcConfig.DisplayName = config.DisplayName
	svcConfig.AutoConnect = !config.NoAutoConnect

	svc := service.New(tr, svcConfig, eventLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Register the delivery handler before the engine starts so no
	// early message slips past.
	var ic *interactive.Chat
	if config.Interactive {
		ic, err = interactive.New(svc)
		if err != nil {
			log.Fatalf("Failed to create interactive mode: %v", err)
		}
	} else {
		svc.OnMessage(func(m *wire.Message, from string) {
			log.Printf("<%s> %s", m.DisplayName(), m.Content)
		})
	}

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}
	log.Println("Node started")

	if ic != nil {
		// Route log output through readline so it doesn't clobber the
		// prompt.
		log.SetOutput(ic.Stdout())
		go ic.Run(ctx, cancel)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
	case err := <-svc.Fatal():
		log.Printf("Fatal: %v", err)
	}

	log.Println("Shutting down...")
	if err := svc.Stop(); err != nil {
		log.Printf("Error stopping node: %v", err)
	}
	log.Println("Goodbye!")
}

// buildTransport creates the transport named by the configuration.
// The loopback transport exists for trying the interface without any
// network; its hub spans only this process.
func buildTransport(logger meshlog.Logger) (transport.Transport, error) {
	switch config.Transport {
	case "lan":
		return transport.NewLAN(transport.LANConfig{
			Name:      config.DisplayName,
			Port:      config.Port,
			Interface: config.Interface,
			Logger:    logger,
		})
	case "loopback":
		hub := transport.NewHub()
		return hub.NewNode("00:00:00:00:00:01", config.DisplayName), nil
	default:
		return nil, fmt.Errorf("unknown transport: %s", config.Transport)
	}
}

func loadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if fc.Name != "" && !set["name"] {
		config.DisplayName = fc.Name
	}
	if fc.Transport != "" && !set["transport"] {
		config.Transport = fc.Transport
	}
	if fc.Port != 0 && !set["port"] {
		config.Port = fc.Port
	}
	if fc.Interface != "" && !set["iface"] {
		config.Interface = fc.Interface
	}
	if fc.LogLevel != "" && !set["log-level"] {
		config.LogLevel = fc.LogLevel
	}
	if fc.LogFile != "" && !set["log-file"] {
		config.LogFile = fc.LogFile
	}
	if fc.AutoConnect != nil && !set["no-auto-connect"] {
		config.NoAutoConnect = !*fc.AutoConnect
	}
	return nil
}

func applyDefaults() {
	if config.DisplayName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "bluemesh-node"
		}
		config.DisplayName = hostname
	}
	config.DisplayName = wire.SanitizeDisplayName(config.DisplayName)
}

func setupLogging(level string) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	case "warn", "error":
		log.SetFlags(log.Ltime)
	}
}
