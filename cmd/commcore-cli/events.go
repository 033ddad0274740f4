package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/commcore/commcore-go/internal/core"
	"github.com/commcore/commcore-go/pkg/rterr"
	"github.com/commcore/commcore-go/pkg/transport"
)

func newEventsCommand() *cobra.Command {
	var (
		topic    string
		typeName string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Watch QoS status events on an endpoint",
		Long: `Create an endpoint on a topic and print every QoS status event it
raises: matches, incompatible QoS verdicts, deadline misses, liveliness
changes, and lost messages. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(topic, typeName, role)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to watch (required)")
	cmd.Flags().StringVar(&typeName, "type", "std_msgs/String", "Message type name")
	cmd.Flags().StringVar(&role, "role", "subscription", "Endpoint role: publisher or subscription")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

var publisherEventKinds = []transport.EventKind{
	transport.PublisherOfferedDeadlineMissed,
	transport.PublisherLivelinessLost,
	transport.PublisherOfferedIncompatibleQoS,
	transport.PublisherMatched,
}

var subscriptionEventKinds = []transport.EventKind{
	transport.SubscriptionRequestedDeadlineMissed,
	transport.SubscriptionLivelinessChanged,
	transport.SubscriptionRequestedIncompatibleQoS,
	transport.SubscriptionMessageLost,
	transport.SubscriptionMatched,
}

func runEvents(topic, typeName, role string) error {
	profile, err := loadQoSProfile()
	if err != nil {
		return err
	}

	rt, err := startRuntime("commcore_cli_events")
	if err != nil {
		return err
	}
	defer rt.close()
	rt.shutdownOnSignal()

	var events []*core.StatusEvent
	switch role {
	case "publisher":
		pub, err := core.NewPublisher(rt.node, topic, typeName, profile)
		if err != nil {
			return fmt.Errorf("creating publisher: %w", err)
		}
		defer pub.Fini()
		for _, kind := range publisherEventKinds {
			ev, err := core.NewPublisherEvent(pub, kind)
			if errors.Is(err, rterr.ErrUnsupported) {
				continue
			}
			if err != nil {
				return fmt.Errorf("creating %s event: %w", kind, err)
			}
			defer ev.Fini()
			events = append(events, ev)
		}
	case "subscription":
		sub, err := core.NewSubscription(rt.node, topic, typeName, profile)
		if err != nil {
			return fmt.Errorf("creating subscription: %w", err)
		}
		defer sub.Fini()
		for _, kind := range subscriptionEventKinds {
			ev, err := core.NewSubscriptionEvent(sub, kind)
			if errors.Is(err, rterr.ErrUnsupported) {
				continue
			}
			if err != nil {
				return fmt.Errorf("creating %s event: %w", kind, err)
			}
			defer ev.Fini()
			events = append(events, ev)
		}
	default:
		return fmt.Errorf("unknown role %q (want publisher or subscription)", role)
	}

	ws, err := core.NewWaitSet(rt.ctx, core.Capacities{Events: len(events)})
	if err != nil {
		return err
	}
	defer ws.Fini()

	fmt.Printf("Watching %d event kind(s) on '%s' as %s...\n", len(events), topic, role)

	for rt.ctx.IsValid() {
		if err := ws.Clear(); err != nil {
			return err
		}
		for _, ev := range events {
			if err := ws.AddEvent(ev); err != nil {
				return err
			}
		}
		if err := ws.Wait(-1); err != nil {
			if errors.Is(err, rterr.ErrTimeout) && !rt.ctx.IsValid() {
				break
			}
			return err
		}
		for i := range events {
			ev := ws.ReadyEvent(i)
			if ev == nil {
				continue
			}
			status, err := ev.Take()
			if err != nil {
				return err
			}
			printStatus(status)
		}
	}
	return nil
}

func printStatus(status transport.EventStatus) {
	stamp := time.Now().Format("15:04:05.000")
	switch status.Kind {
	case transport.PublisherMatched, transport.SubscriptionMatched:
		m := status.Matched()
		fmt.Printf("[%s] %s: current=%d (%+d) total=%d\n",
			stamp, status.Kind, m.CurrentCount, m.CurrentCountChange, m.TotalCount)
	case transport.PublisherOfferedIncompatibleQoS, transport.SubscriptionRequestedIncompatibleQoS:
		iq := status.IncompatibleQoS()
		fmt.Printf("[%s] %s: total=%d (%+d) last_policy=%s\n",
			stamp, status.Kind, iq.TotalCount, iq.TotalCountChange, iq.LastPolicyKind)
	case transport.SubscriptionLivelinessChanged:
		lc := status.LivelinessChanged()
		fmt.Printf("[%s] %s: alive=%d (%+d) not_alive=%d (%+d)\n",
			stamp, status.Kind, lc.AliveCount, lc.AliveCountChange, lc.NotAliveCount, lc.NotAliveCountChange)
	default:
		c := status.Counts()
		fmt.Printf("[%s] %s: total=%d (%+d)\n", stamp, status.Kind, c.TotalCount, c.TotalCountChange)
	}
}
