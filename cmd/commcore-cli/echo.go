package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/commcore/commcore-go/internal/core"
	"github.com/commcore/commcore-go/pkg/rterr"
)

func newEchoCommand() *cobra.Command {
	var (
		topic    string
		typeName string
		count    int
	)

	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Print messages arriving on a topic",
		Long: `Subscribe to a topic and print every message as it arrives.
With --count 0 echoing continues until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEcho(topic, typeName, count)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to subscribe to (required)")
	cmd.Flags().StringVar(&typeName, "type", "std_msgs/String", "Message type name")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many messages (0 = until interrupted)")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func runEcho(topic, typeName string, count int) error {
	profile, err := loadQoSProfile()
	if err != nil {
		return err
	}

	rt, err := startRuntime("commcore_cli_echo")
	if err != nil {
		return err
	}
	defer rt.close()
	rt.shutdownOnSignal()

	sub, err := core.NewSubscription(rt.node, topic, typeName, profile)
	if err != nil {
		return fmt.Errorf("creating subscription: %w", err)
	}
	defer sub.Fini()

	ws, err := core.NewWaitSet(rt.ctx, core.Capacities{Subscriptions: 1})
	if err != nil {
		return err
	}
	defer ws.Fini()

	resolved, err := sub.TopicName()
	if err != nil {
		return err
	}
	fmt.Printf("Listening on '%s'...\n", resolved)

	received := 0
	for count == 0 || received < count {
		if err := ws.Clear(); err != nil {
			return err
		}
		if err := ws.AddSubscription(sub); err != nil {
			return err
		}
		if err := ws.Wait(-1); err != nil {
			if errors.Is(err, rterr.ErrTimeout) && !rt.ctx.IsValid() {
				break
			}
			return err
		}
		for {
			payload, ok, err := sub.Take()
			if err != nil || !ok {
				break
			}
			received++
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), payload)
			if count != 0 && received >= count {
				break
			}
		}
	}
	fmt.Printf("Received %d message(s)\n", received)
	return nil
}
