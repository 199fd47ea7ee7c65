// Package mts is the embedder-facing facade over the internal router,
// directory, and transports: the pieces a host program wires together
// to run a message transport service node, without reaching into
// internal/ itself.
package mts

import (
	"context"
	"fmt"
	"time"

	"github.com/rock-multiagent/multiagent-fipa-services/internal/config"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/directory"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/envelope"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/logging"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/router"
)

// HandlerFunc is a local-delivery callback, re-exported so embedders
// never need to import internal/envelope or internal/router directly.
type HandlerFunc = router.HandlerFunc

// MTS is a running message transport node: a directory, a router, and
// the set of transports the router has activated.
type MTS struct {
	cfg    *config.Config
	dir    *directory.ServiceDirectory
	router *router.MessageTransport
	log    *logging.Logger

	pumpInterval time.Duration
}

// New builds an MTS from cfg but does not yet activate any transport;
// call Run to do that and block until ctx is done.
func New(cfg *config.Config) *MTS {
	dir := directory.New()
	dir.SetDebug(cfg.Debug)

	rt := router.New(cfg.AgentID, dir)
	rt.SetDebug(cfg.Debug)
	for _, sig := range cfg.AcceptedSignatures {
		rt.AddAcceptedSignature(sig)
	}

	return &MTS{
		cfg:          cfg,
		dir:          dir,
		router:       rt,
		log:          logging.New("mts"),
		pumpInterval: 20 * time.Millisecond,
	}
}

// RegisterHandler registers a local-delivery handler under name.
func (m *MTS) RegisterHandler(name string, handler HandlerFunc) error {
	return m.router.RegisterMessageTransport(name, handler)
}

// RegisterClient registers a directory entry whose locator is this
// node's own endpoints.
func (m *MTS) RegisterClient(clientName, description string) error {
	return m.router.RegisterClient(clientName, description)
}

// Handle hands a letter built by the embedder directly to the router,
// bypassing the network (used to inject a locally originated message).
func (m *MTS) Handle(letter *envelope.Letter) error {
	return m.router.Handle(letter)
}

// Directory exposes the underlying ServiceDirectory for direct
// registration/search by an embedder that needs more than
// RegisterClient offers.
func (m *MTS) Directory() *directory.ServiceDirectory { return m.dir }

// Run activates every transport named in the configuration, then pumps
// the router until ctx is done, at which point every transport is
// closed.
func (m *MTS) Run(ctx context.Context) error {
	for _, tr := range m.cfg.Transports {
		flag, err := transportFlag(tr.Type)
		if err != nil {
			return err
		}
		if err := m.router.ActivateTransport(flag, tr.ListeningPort, tr.MaximumClients, tr.TTL); err != nil {
			return fmt.Errorf("activate %s: %w", tr.Type, err)
		}
		m.log.Printf("activated %s transport on port %d", tr.Type, tr.ListeningPort)
	}
	defer m.router.Close()

	ticker := time.NewTicker(m.pumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.router.Trigger(); err != nil {
				m.log.Debugf("trigger error: %v", err)
			}
		}
	}
}

func transportFlag(transportType string) (router.TransportFlag, error) {
	switch transportType {
	case "tcp":
		return router.TransportTCP, nil
	case "udt":
		return router.TransportUDT, nil
	default:
		return 0, fmt.Errorf("unknown transport type %q", transportType)
	}
}
