package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/commcore/commcore-go/pkg/qos"
)

// qosFileSpec is the YAML shape of a QoS profile file. Unset fields keep
// the default profile's values.
type qosFileSpec struct {
	History       string `yaml:"history"`
	Depth         *int   `yaml:"depth"`
	Reliability   string `yaml:"reliability"`
	Durability    string `yaml:"durability"`
	Deadline      string `yaml:"deadline"`
	Lifespan      string `yaml:"lifespan"`
	Liveliness    string `yaml:"liveliness"`
	LeaseDuration string `yaml:"lease_duration"`
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return d, nil
}

// loadQoSProfile reads the profile named by the --qos-file flag. A nil
// return with nil error means no file was given and defaults apply.
func loadQoSProfile() (*qos.Profile, error) {
	if qosFile == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(qosFile)
	if err != nil {
		return nil, fmt.Errorf("reading QoS file: %w", err)
	}
	var spec qosFileSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parsing QoS file: %w", err)
	}

	profile := qos.DefaultProfile()
	switch spec.History {
	case "":
	case "keep_last":
		profile.History = qos.HistoryKeepLast
	case "keep_all":
		profile.History = qos.HistoryKeepAll
	default:
		return nil, fmt.Errorf("unknown history %q", spec.History)
	}
	if spec.Depth != nil {
		profile.Depth = *spec.Depth
	}
	switch spec.Reliability {
	case "":
	case "reliable":
		profile.Reliability = qos.ReliabilityReliable
	case "best_effort":
		profile.Reliability = qos.ReliabilityBestEffort
	default:
		return nil, fmt.Errorf("unknown reliability %q", spec.Reliability)
	}
	switch spec.Durability {
	case "":
	case "volatile":
		profile.Durability = qos.DurabilityVolatile
	case "transient_local":
		profile.Durability = qos.DurabilityTransientLocal
	default:
		return nil, fmt.Errorf("unknown durability %q", spec.Durability)
	}
	switch spec.Liveliness {
	case "":
	case "automatic":
		profile.Liveliness = qos.LivelinessAutomatic
	case "manual_by_topic":
		profile.Liveliness = qos.LivelinessManualByTopic
	default:
		return nil, fmt.Errorf("unknown liveliness %q", spec.Liveliness)
	}
	if profile.Deadline, err = parseDuration("deadline", spec.Deadline); err != nil {
		return nil, err
	}
	if profile.Lifespan, err = parseDuration("lifespan", spec.Lifespan); err != nil {
		return nil, err
	}
	if profile.LeaseDuration, err = parseDuration("lease_duration", spec.LeaseDuration); err != nil {
		return nil, err
	}
	return &profile, nil
}
