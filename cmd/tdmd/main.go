// Command tdmd runs the Thymio Device Manager broker: it discovers
// nodes through a backend, accepts client connections over framed TCP
// and WebSocket, and republishes node state to every connected client.
//
// Grounded on main.go's flag.Parse-then-fallback-config startup.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mobsya/thymio-broker/internal/backend"
	"github.com/mobsya/thymio-broker/internal/broker"
	"github.com/mobsya/thymio-broker/internal/compiler"
	"github.com/mobsya/thymio-broker/internal/config"
	"github.com/mobsya/thymio-broker/internal/logging"
	"github.com/mobsya/thymio-broker/internal/node"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadFromFlags(args)
	if err == flag.ErrHelp {
		return nil
	}
	if err != nil {
		return err
	}

	sim := backend.NewSimulated()
	seedDemoNode(sim)

	srv := broker.New(cfg, sim, compiler.Dummy{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Default().Infof("tdmd starting (tcp=%q ws=%q)", cfg.TCPAddress, cfg.WebSocketAddress)
	return srv.Run(ctx)
}

// seedDemoNode registers one simulated node so a freshly started
// broker has something to show a connecting client even with no real
// hardware attached. Real deployments wire in a serial/USB-to-CAN
// backend instead of Simulated.
func seedDemoNode(sim *backend.Simulated) {
	vars := []node.VariableDescription{
		{Name: "leds.top", Size: 3},
		{Name: "motor.left.speed", Size: 1},
		{Name: "motor.right.speed", Size: 1},
	}
	events := []node.EventDescription{
		{Name: "button.forward", FixedSize: 0},
		{Name: "tap", FixedSize: 0},
	}
	if _, err := sim.AddNode("thymio-demo", node.TypeThymio2, node.CapabilityRename, vars, events); err != nil {
		logging.Default().Warnf("seeding demo node: %v", err)
	}
}
