package grpctransport

import (
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/commcore/commcore-go/pkg/qos"
)

// Envelope kinds carried over the mesh channel.
const (
	kindHello    = "hello"
	kindPing     = "ping"
	kindAnnounce = "announce"
	kindRetract  = "retract"
	kindData     = "data"
	kindAssert   = "assert"
)

const (
	rolePublisher    = "publisher"
	roleSubscription = "subscription"
)

// envelope is one message on the mesh channel. Which fields are set depends
// on the kind: hello carries only the node ID, announce carries the full
// endpoint description, data carries endpoint, topic, and payload, retract
// and assert carry the endpoint alone.
type envelope struct {
	Kind     string
	Node     string
	Role     string
	Endpoint string
	Topic    string
	TypeName string
	Payload  []byte
	Profile  qos.Profile
}

func (e envelope) encode() (*structpb.Struct, error) {
	fields := map[string]any{
		"kind": e.Kind,
		"node": e.Node,
	}
	switch e.Kind {
	case kindAnnounce:
		fields["role"] = e.Role
		fields["endpoint"] = e.Endpoint
		fields["topic"] = e.Topic
		fields["type"] = e.TypeName
		fields["qos"] = encodeProfile(e.Profile)
	case kindData:
		fields["endpoint"] = e.Endpoint
		fields["topic"] = e.Topic
		fields["payload"] = base64.StdEncoding.EncodeToString(e.Payload)
	case kindRetract, kindAssert:
		fields["endpoint"] = e.Endpoint
	}
	return structpb.NewStruct(fields)
}

func decodeEnvelope(s *structpb.Struct) (envelope, error) {
	if s == nil {
		return envelope{}, fmt.Errorf("nil envelope")
	}
	e := envelope{
		Kind:     stringField(s, "kind"),
		Node:     stringField(s, "node"),
		Role:     stringField(s, "role"),
		Endpoint: stringField(s, "endpoint"),
		Topic:    stringField(s, "topic"),
		TypeName: stringField(s, "type"),
	}
	if e.Kind == "" {
		return envelope{}, fmt.Errorf("envelope has no kind")
	}
	if enc := stringField(s, "payload"); enc != "" {
		payload, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return envelope{}, fmt.Errorf("decoding payload: %w", err)
		}
		e.Payload = payload
	}
	if q := s.GetFields()["qos"]; q != nil {
		e.Profile = decodeProfile(q.GetStructValue())
	}
	return e, nil
}

func encodeProfile(p qos.Profile) map[string]any {
	return map[string]any{
		"history":     int(p.History),
		"depth":       p.Depth,
		"reliability": int(p.Reliability),
		"durability":  int(p.Durability),
		"deadline_ns": int64(p.Deadline),
		"lifespan_ns": int64(p.Lifespan),
		"liveliness":  int(p.Liveliness),
		"lease_ns":    int64(p.LeaseDuration),
	}
}

func decodeProfile(s *structpb.Struct) qos.Profile {
	if s == nil {
		return qos.DefaultProfile()
	}
	return qos.Profile{
		History:       qos.HistoryKind(intField(s, "history")),
		Depth:         int(intField(s, "depth")),
		Reliability:   qos.ReliabilityKind(intField(s, "reliability")),
		Durability:    qos.DurabilityKind(intField(s, "durability")),
		Deadline:      time.Duration(intField(s, "deadline_ns")),
		Lifespan:      time.Duration(intField(s, "lifespan_ns")),
		Liveliness:    qos.LivelinessKind(intField(s, "liveliness")),
		LeaseDuration: time.Duration(intField(s, "lease_ns")),
	}
}

func stringField(s *structpb.Struct, key string) string {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func intField(s *structpb.Struct, key string) int64 {
	if v, ok := s.GetFields()[key]; ok {
		return int64(v.GetNumberValue())
	}
	return 0
}
