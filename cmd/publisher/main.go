package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/signalmesh/broker/internal/client"
	"github.com/signalmesh/broker/internal/msggen"
)

func main() {
	host := flag.String("host", "127.0.0.1", "broker host")
	port := flag.Uint("p", 5000, "broker port")
	flag.UintVar(port, "port", 5000, "broker port")
	channel := flag.Uint("c", 0, "channel to publish on")
	flag.UintVar(channel, "channel", 0, "channel to publish on")
	seed := flag.Uint("s", 0, "message generator seed (0 = random)")
	flag.UintVar(seed, "seed", 0, "message generator seed (0 = random)")
	delay := flag.Uint("d", 500, "delay between publishes, in milliseconds")
	flag.UintVar(delay, "delay", 500, "delay between publishes, in milliseconds")
	clientID := flag.String("client-id", "publisher", "client id announced in the handshake")
	transport := flag.String("transport", "tcp", "transport to use: tcp, udp or ws")
	flag.Parse()

	if *channel > 255 {
		log.Fatal("channel must be 0..=255")
	}
	if len(*clientID) > 255 {
		log.Fatal("client id must be at most 255 bytes")
	}

	resolvedSeed := uint32(*seed)
	if resolvedSeed == 0 {
		resolvedSeed = msggen.InitSeed()
	}

	addr := net.JoinHostPort(*host, strconv.Itoa(int(*port)))

	cfg := client.PublisherConfig{
		Transport: client.Transport(*transport),
		Addr:      addr,
		Channel:   uint8(*channel),
		ClientID:  *clientID,
		Seed:      resolvedSeed,
		DelayMs:   uint32(*delay),
		MaxLen:    1024,
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	if err := client.RunPublisher(cfg, stop); err != nil {
		log.Fatal(err)
	}
}
