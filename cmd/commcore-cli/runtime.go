package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/commcore/commcore-go/internal/core"
	"github.com/commcore/commcore-go/internal/grpctransport"
)

// meshRuntime bundles the transport, context, and node a command runs on.
type meshRuntime struct {
	transport *grpctransport.Transport
	ctx       *core.Context
	node      *core.Node
}

// startRuntime joins the mesh and creates a node named nodeName. The
// returned runtime must be closed by the caller.
func startRuntime(nodeName string) (*meshRuntime, error) {
	logger := logrus.New()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	tr, err := grpctransport.New(&grpctransport.Config{
		NodeID:        nodeID,
		ListenAddress: listenAddress,
		Peers:         peers,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("starting transport: %w", err)
	}

	cctx, err := core.NewContext(&core.ContextConfig{
		DomainID:  domainID,
		Transport: tr,
		Logger:    logger,
	})
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("initializing context: %w", err)
	}
	node, err := core.NewNode(cctx, nodeName, namespace, nil)
	if err != nil {
		_ = cctx.Shutdown()
		_ = cctx.Fini()
		_ = tr.Close()
		return nil, fmt.Errorf("creating node: %w", err)
	}

	return &meshRuntime{transport: tr, ctx: cctx, node: node}, nil
}

// shutdownOnSignal shuts the context down when the process receives an
// interrupt, which unblocks any wait set bound to it.
func (r *meshRuntime) shutdownOnSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		_ = r.ctx.Shutdown()
	}()
}

func (r *meshRuntime) close() {
	if r.ctx.IsValid() {
		_ = r.ctx.Shutdown()
	}
	_ = r.node.Fini()
	_ = r.ctx.Fini()
	_ = r.transport.Close()
}
