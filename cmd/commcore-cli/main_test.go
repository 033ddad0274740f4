package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commcore/commcore-go/pkg/qos"
)

func TestMainCommandHelp(t *testing.T) {
	rootCmd := &cobra.Command{
		Use:   "commcore-cli",
		Short: "CommCore mesh command line interface",
	}
	rootCmd.AddCommand(newPubCommand())
	rootCmd.AddCommand(newEchoCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newGraphCommand())

	output := &bytes.Buffer{}
	rootCmd.SetOutput(output)
	rootCmd.SetArgs([]string{"--help"})

	err := rootCmd.Execute()
	require.NoError(t, err)

	helpOutput := output.String()
	assert.Contains(t, helpOutput, "pub")
	assert.Contains(t, helpOutput, "echo")
	assert.Contains(t, helpOutput, "events")
	assert.Contains(t, helpOutput, "graph")
}

func TestGlobalFlags(t *testing.T) {
	rootCmd := &cobra.Command{Use: "commcore-cli"}
	rootCmd.PersistentFlags().StringVar(&nodeID, "node-id", "commcore-cli", "Mesh node identifier")
	rootCmd.PersistentFlags().IntVar(&domainID, "domain", 0, "Domain ID")
	rootCmd.PersistentFlags().StringVar(&namespace, "namespace", "/", "Node namespace")

	err := rootCmd.ParseFlags([]string{"--node-id", "robot1", "--domain", "42", "--namespace", "/fleet"})
	require.NoError(t, err)

	assert.Equal(t, "robot1", nodeID)
	assert.Equal(t, 42, domainID)
	assert.Equal(t, "/fleet", namespace)
}

func TestLoadQoSProfile(t *testing.T) {
	writeProfile := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "qos.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("no file means defaults", func(t *testing.T) {
		qosFile = ""
		profile, err := loadQoSProfile()
		require.NoError(t, err)
		assert.Nil(t, profile)
	})

	t.Run("full profile", func(t *testing.T) {
		qosFile = writeProfile(t, `
history: keep_all
reliability: best_effort
durability: transient_local
liveliness: manual_by_topic
deadline: 250ms
lifespan: 5s
lease_duration: 1s
`)
		defer func() { qosFile = "" }()

		profile, err := loadQoSProfile()
		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.Equal(t, qos.HistoryKeepAll, profile.History)
		assert.Equal(t, qos.ReliabilityBestEffort, profile.Reliability)
		assert.Equal(t, qos.DurabilityTransientLocal, profile.Durability)
		assert.Equal(t, qos.LivelinessManualByTopic, profile.Liveliness)
		assert.Equal(t, 250*time.Millisecond, profile.Deadline)
		assert.Equal(t, 5*time.Second, profile.Lifespan)
		assert.Equal(t, time.Second, profile.LeaseDuration)
	})

	t.Run("partial profile keeps defaults", func(t *testing.T) {
		qosFile = writeProfile(t, "depth: 3\n")
		defer func() { qosFile = "" }()

		profile, err := loadQoSProfile()
		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.Equal(t, 3, profile.Depth)
		assert.Equal(t, qos.ReliabilityReliable, profile.Reliability)
		assert.Equal(t, qos.HistoryKeepLast, profile.History)
	})

	t.Run("unknown value is rejected", func(t *testing.T) {
		qosFile = writeProfile(t, "reliability: sometimes\n")
		defer func() { qosFile = "" }()

		_, err := loadQoSProfile()
		assert.Error(t, err)
	})
}
