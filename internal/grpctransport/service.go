package grpctransport

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The mesh channel is a single bidirectional stream of struct envelopes.
// The service descriptor is declared by hand so the wire contract lives
// next to the code that speaks it.
const channelFullMethod = "/commcore.v1.Mesh/Channel"

// channelStream is the symmetric view of the mesh channel used by both the
// dialing and the serving side.
type channelStream interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
}

type channelServer interface {
	Channel(channelStream) error
}

var channelServiceDesc = grpc.ServiceDesc{
	ServiceName: "commcore.v1.Mesh",
	HandlerType: (*channelServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       channelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "commcore/v1/mesh.proto",
}

func channelHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(channelServer).Channel(&serverChannelStream{stream})
}

type serverChannelStream struct {
	grpc.ServerStream
}

func (s *serverChannelStream) Send(m *structpb.Struct) error { return s.SendMsg(m) }

func (s *serverChannelStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := s.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type clientChannelStream struct {
	grpc.ClientStream
}

func (s *clientChannelStream) Send(m *structpb.Struct) error { return s.SendMsg(m) }

func (s *clientChannelStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := s.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
