package main

import (
	"flag"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/signalmesh/broker/internal/broker/tcp"
	"github.com/signalmesh/broker/internal/config"
	"github.com/signalmesh/broker/internal/svc"
)

func main() {
	host := flag.String("host", "127.0.0.1", "address to listen on")
	port := flag.Uint("p", 5000, "port to listen on")
	flag.UintVar(port, "port", 5000, "port to listen on")
	wsAddr := flag.String("ws", "", "optional websocket listener address (host:port), empty disables it")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.BoolVar(verbose, "verbose", false, "verbose logging")
	cnfFlag := flag.String("c", "", "path of JSON config file")
	flag.StringVar(cnfFlag, "config", "", "path of JSON config file")
	svcFlag := flag.String("service", "", "control the system service: install, uninstall, start or stop")
	flag.Parse()

	cfg := &config.Config{Host: *host, Port: uint16(*port), WS: *wsAddr, Verbose: *verbose}
	if *cnfFlag != "" {
		fileCfg, err := config.LoadFromFile(*cnfFlag)
		if err != nil {
			log.Fatal(err)
		}
		cfg = mergeFlags(fileCfg, host, port, wsAddr, verbose)
	}

	if err := cfg.ApplyLogLevel(); err != nil {
		log.Fatal(err)
	}
	if cfg.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		log.SetOutput(f)
	}

	srv := tcp.NewServer(cfg.Host, cfg.Port, cfg.WS)

	svcCfg := svc.Config{
		Name:        "broker-tcp",
		DisplayName: "Pub/Sub TCP Broker",
		Description: "Binary pub/sub broker over TCP, with an optional websocket listener.",
	}

	if *svcFlag != "" {
		if err := svc.Control(svcCfg, srv.Run, srv.Shutdown, *svcFlag); err != nil {
			log.WithField("valid_actions", "install, uninstall, start, stop, restart").Fatal(err)
		}
		return
	}

	if err := svc.Run(svcCfg, srv.Run, srv.Shutdown); err != nil {
		log.Fatal(err)
	}
}

// mergeFlags layers explicitly-set flags over the config file's values:
// flags always win.
func mergeFlags(fileCfg *config.Config, host *string, port *uint, wsAddr *string, verbose *bool) *config.Config {
	isSet := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { isSet[f.Name] = true })

	cfg := *fileCfg
	if cfg.Host == "" || isSet["host"] {
		cfg.Host = *host
	}
	if cfg.Port == 0 || isSet["port"] || isSet["p"] {
		cfg.Port = uint16(*port)
	}
	if isSet["ws"] {
		cfg.WS = *wsAddr
	}
	if isSet["v"] || isSet["verbose"] {
		cfg.Verbose = *verbose
	}
	return &cfg
}
