package memtransport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/commcore/commcore-go/pkg/qos"
)

func TestIncompatiblePolicy(t *testing.T) {
	base := qos.DefaultProfile()

	tests := []struct {
		name      string
		offered   func(p *qos.Profile)
		requested func(p *qos.Profile)
		want      qos.PolicyKind
	}{
		{
			name: "defaults are compatible",
			want: qos.PolicyInvalid,
		},
		{
			name:    "best effort cannot satisfy reliable",
			offered: func(p *qos.Profile) { p.Reliability = qos.ReliabilityBestEffort },
			want:    qos.PolicyReliability,
		},
		{
			name:      "reliable satisfies best effort",
			requested: func(p *qos.Profile) { p.Reliability = qos.ReliabilityBestEffort },
			want:      qos.PolicyInvalid,
		},
		{
			name:      "volatile cannot satisfy transient local",
			requested: func(p *qos.Profile) { p.Durability = qos.DurabilityTransientLocal },
			want:      qos.PolicyDurability,
		},
		{
			name:      "transient local satisfies volatile",
			offered:   func(p *qos.Profile) { p.Durability = qos.DurabilityTransientLocal },
			want:      qos.PolicyInvalid,
		},
		{
			name:      "missing offered deadline cannot satisfy a requested one",
			requested: func(p *qos.Profile) { p.Deadline = time.Second },
			want:      qos.PolicyDeadline,
		},
		{
			name:      "longer offered deadline cannot satisfy a shorter one",
			offered:   func(p *qos.Profile) { p.Deadline = 2 * time.Second },
			requested: func(p *qos.Profile) { p.Deadline = time.Second },
			want:      qos.PolicyDeadline,
		},
		{
			name:      "tighter offered deadline satisfies",
			offered:   func(p *qos.Profile) { p.Deadline = time.Second },
			requested: func(p *qos.Profile) { p.Deadline = 2 * time.Second },
			want:      qos.PolicyInvalid,
		},
		{
			name:      "automatic cannot satisfy manual by topic",
			requested: func(p *qos.Profile) { p.Liveliness = qos.LivelinessManualByTopic },
			want:      qos.PolicyLiveliness,
		},
		{
			name:    "manual by topic satisfies automatic",
			offered: func(p *qos.Profile) { p.Liveliness = qos.LivelinessManualByTopic },
			want:    qos.PolicyInvalid,
		},
		{
			name:      "longer offered lease cannot satisfy a shorter one",
			offered:   func(p *qos.Profile) { p.LeaseDuration = 2 * time.Second },
			requested: func(p *qos.Profile) { p.LeaseDuration = time.Second },
			want:      qos.PolicyLiveliness,
		},
		{
			name:      "shorter offered lease satisfies",
			offered:   func(p *qos.Profile) { p.LeaseDuration = time.Second },
			requested: func(p *qos.Profile) { p.LeaseDuration = 2 * time.Second },
			want:      qos.PolicyInvalid,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			offered, requested := base, base
			if tc.offered != nil {
				tc.offered(&offered)
			}
			if tc.requested != nil {
				tc.requested(&requested)
			}
			assert.Equal(t, tc.want, incompatiblePolicy(offered, requested))
		})
	}
}
