package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/signalmesh/broker/internal/client"
)

func main() {
	host := flag.String("host", "127.0.0.1", "broker host")
	port := flag.Uint("p", 5000, "broker port")
	flag.UintVar(port, "port", 5000, "broker port")
	channels := flag.String("c", "0", "comma-separated list of channels to subscribe to")
	flag.StringVar(channels, "channels", "0", "comma-separated list of channels to subscribe to")
	clientID := flag.String("client-id", "subscriber", "client id announced in the handshake")
	transport := flag.String("transport", "tcp", "transport to use: tcp, udp or ws")
	flag.Parse()

	chans, err := parseChannels(*channels)
	if err != nil {
		log.Fatal(err)
	}
	if len(*clientID) > 255 {
		log.Fatal("client id must be at most 255 bytes")
	}

	addr := net.JoinHostPort(*host, strconv.Itoa(int(*port)))

	cfg := client.SubscriberConfig{
		Transport: client.Transport(*transport),
		Addr:      addr,
		Channels:  chans,
		ClientID:  *clientID,
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	if err := client.RunSubscriber(cfg, stop); err != nil {
		log.Fatal(err)
	}
}

func parseChannels(s string) ([]uint8, error) {
	parts := strings.Split(s, ",")
	out := make([]uint8, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return nil, err
		}
		out = append(out, uint8(n))
	}
	if len(out) == 0 {
		return nil, strconv.ErrSyntax
	}
	if len(out) > 255 {
		return nil, strconv.ErrRange
	}
	return out, nil
}
