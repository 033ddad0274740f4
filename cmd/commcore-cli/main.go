package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	nodeID        string
	listenAddress string
	peers         []string
	domainID      int
	namespace     string
	qosFile       string
	verbose       bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "commcore-cli",
		Short: "CommCore mesh command line interface",
		Long: `commcore-cli is a command line interface for a CommCore mesh.
It joins the mesh as a regular node over the gRPC transport and provides
commands for publishing, echoing topics, watching QoS status events, and
inspecting the topic graph.`,
	}

	// Add global flags
	rootCmd.PersistentFlags().StringVar(&nodeID, "node-id", "commcore-cli", "Mesh node identifier")
	rootCmd.PersistentFlags().StringVar(&listenAddress, "listen", "localhost:0", "Transport listen address")
	rootCmd.PersistentFlags().StringSliceVar(&peers, "peer", nil, "Peer address to connect to (repeatable)")
	rootCmd.PersistentFlags().IntVar(&domainID, "domain", 0, "Domain ID")
	rootCmd.PersistentFlags().StringVar(&namespace, "namespace", "/", "Node namespace")
	rootCmd.PersistentFlags().StringVar(&qosFile, "qos-file", "", "YAML file with a QoS profile")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	// Add subcommands
	rootCmd.AddCommand(newPubCommand())
	rootCmd.AddCommand(newEchoCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newGraphCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
