package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newGraphCommand() *cobra.Command {
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the mesh topic graph",
		Long: `List every topic visible on the mesh with its type name and the
number of publishers and subscriptions, local and remote alike.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(settle)
		},
	}

	cmd.Flags().DurationVar(&settle, "settle", 500*time.Millisecond, "Time to wait for peer announcements")

	return cmd
}

func runGraph(settle time.Duration) error {
	rt, err := startRuntime("commcore_cli_graph")
	if err != nil {
		return err
	}
	defer rt.close()

	// Give freshly connected peers a moment to announce their endpoints.
	time.Sleep(settle)

	topics, err := rt.node.TopicNamesAndTypes()
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		fmt.Println("No topics on the mesh")
		if len(rt.transport.ConnectedPeers()) == 0 && len(peers) > 0 {
			fmt.Println("(no peers connected; check --peer addresses)")
		}
		return nil
	}

	names := make([]string, 0, len(topics))
	for name := range topics {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("Topics (%d):\n", len(names))
	for _, name := range names {
		nPubs, err := rt.node.CountPublishers(name)
		if err != nil {
			return err
		}
		nSubs, err := rt.node.CountSubscriptions(name)
		if err != nil {
			return err
		}
		fmt.Printf("  %s [%s] publishers=%d subscriptions=%d\n", name, topics[name], nPubs, nSubs)
	}
	if connected := rt.transport.ConnectedPeers(); len(connected) > 0 {
		fmt.Printf("Connected peers: %v\n", connected)
	}
	return nil
}
