// Package svc wraps a broker's Run/Stop pair so either broker binary can
// optionally be installed and controlled as an OS service. Adapted from
// cmd/gobroke/gobroke.go's program type, generalized so it isn't tied to
// the MQTT server: any (name, run, stop) triple can be wrapped.
package svc

import (
	log "github.com/sirupsen/logrus"

	"github.com/kardianos/service"
)

// program wraps a long-running server's lifecycle for the service
// manager: Run is started in the background on Start and must block
// until Stop's signal (or its own fatal error) ends it.
type program struct {
	run  func() error
	stop func()
}

func (p *program) Start(s service.Service) error {
	go func() {
		if err := p.run(); err != nil {
			log.WithError(err).Error("server exited with error")
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.stop()
	return nil
}

// Config describes how to present this program to the OS service
// manager. Name must be unique per installed service.
type Config struct {
	Name        string
	DisplayName string
	Description string
}

// Control installs, uninstalls, starts or stops the service identified
// by cfg, per action (one of service.ControlAction). It does not run the
// server itself - use Run for that.
func Control(cfg Config, run func() error, stop func(), action string) error {
	s, err := newService(cfg, run, stop)
	if err != nil {
		return err
	}
	return service.Control(s, action)
}

// Run starts the server under the service manager's supervision when
// running as an installed service, or runs it directly (blocking) when
// invoked interactively.
func Run(cfg Config, run func() error, stop func()) error {
	if service.Interactive() {
		return run()
	}

	s, err := newService(cfg, run, stop)
	if err != nil {
		return err
	}
	return s.Run()
}

func newService(cfg Config, run func() error, stop func()) (service.Service, error) {
	p := &program{run: run, stop: stop}
	return service.New(p, &service.Config{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
	})
}
