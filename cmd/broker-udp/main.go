package main

import (
	"flag"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/signalmesh/broker/internal/broker/udp"
	"github.com/signalmesh/broker/internal/config"
	"github.com/signalmesh/broker/internal/svc"
)

func main() {
	host := flag.String("host", "127.0.0.1", "address to listen on")
	port := flag.Uint("p", 5000, "port to listen on")
	flag.UintVar(port, "port", 5000, "port to listen on")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.BoolVar(verbose, "verbose", false, "verbose logging")
	cnfFlag := flag.String("c", "", "path of JSON config file")
	flag.StringVar(cnfFlag, "config", "", "path of JSON config file")
	sendConcurrency := flag.Uint("send-concurrency", 1, "number of outstanding UDP sends allowed across all peers")
	svcFlag := flag.String("service", "", "control the system service: install, uninstall, start or stop")
	flag.Parse()

	cfg := &config.Config{Host: *host, Port: uint16(*port), Verbose: *verbose}
	if *cnfFlag != "" {
		fileCfg, err := config.LoadFromFile(*cnfFlag)
		if err != nil {
			log.Fatal(err)
		}
		cfg = mergeFlags(fileCfg, host, port, verbose)
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

	srv := udp.NewServer(cfg.Host, cfg.Port, int(*sendConcurrency))

	svcCfg := svc.Config{
		Name:        "broker-udp",
		DisplayName: "Pub/Sub UDP Broker",
		Description: "Binary pub/sub broker over UDP.",
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

func mergeFlags(fileCfg *config.Config, host *string, port *uint, verbose *bool) *config.Config {
	isSet := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { isSet[f.Name] = true })

	cfg := *fileCfg
	if cfg.Host == "" || isSet["host"] {
		cfg.Host = *host
	}
	if cfg.Port == 0 || isSet["port"] || isSet["p"] {
		cfg.Port = uint16(*port)
	}
	if isSet["v"] || isSet["verbose"] {
		cfg.Verbose = *verbose
	}
	return &cfg
}
