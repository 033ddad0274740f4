package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/commcore/commcore-go/internal/core"
)

func newPubCommand() *cobra.Command {
	var (
		topic    string
		typeName string
		message  string
		count    int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "pub",
		Short: "Publish messages to a topic",
		Long: `Publish messages to a topic at a fixed interval. With --count 0
publishing continues until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPub(topic, typeName, message, count, interval)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to publish to (required)")
	cmd.Flags().StringVar(&typeName, "type", "std_msgs/String", "Message type name")
	cmd.Flags().StringVar(&message, "message", "hello", "Message payload")
	cmd.Flags().IntVar(&count, "count", 1, "Number of messages to publish (0 = until interrupted)")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Delay between messages")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func runPub(topic, typeName, message string, count int, interval time.Duration) error {
	profile, err := loadQoSProfile()
	if err != nil {
		return err
	}

	rt, err := startRuntime("commcore_cli_pub")
	if err != nil {
		return err
	}
	defer rt.close()
	rt.shutdownOnSignal()

	pub, err := core.NewPublisher(rt.node, topic, typeName, profile)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Fini()

	resolved, err := pub.TopicName()
	if err != nil {
		return err
	}
	fmt.Printf("Publishing to '%s'...\n", resolved)

	for i := 0; count == 0 || i < count; i++ {
		if !rt.ctx.IsValid() {
			break
		}
		if i > 0 {
			time.Sleep(interval)
		}
		if err := pub.Publish([]byte(message)); err != nil {
			return fmt.Errorf("publishing message %d: %w", i+1, err)
		}
		fmt.Printf("✅ [%d] published %q\n", i+1, message)
	}
	return nil
}
