// fake_runner is a minimal carton runner used only by e2e tests: it
// completes the handshake, acks Load, and echoes Infer's input tensors
// back as output. It never touches the filesystem channel or a real
// framework.
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/carton-run/carton/internal/ipc"
)

// stdioConn adapts stdin/stdout into an io.ReadWriteCloser so ipc.Channel
// can drive its reader/writer loops the same way it would over a real pipe.
type stdioConn struct{}

func (stdioConn) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioConn) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioConn) Close() error                { return nil }

func main() {
	ch := ipc.NewChannel(stdioConn{}, zerolog.Nop())
	ctx := context.Background()

	ch.OnEvent(ipc.KindHello, func(env ipc.Envelope) {
		_ = ch.Reply(ctx, env.Channel, env.CorrelationID, ipc.KindAck,
			ipc.HelloMessage{SupportedMajorVersions: ipc.SupportedMajorVersions})
	})
	ch.OnEvent(ipc.KindLoad, func(env ipc.Envelope) {
		_ = ch.Reply(ctx, env.Channel, env.CorrelationID, ipc.KindAck, ipc.EmptyResponse{})
	})
	ch.OnEvent(ipc.KindInfer, func(env ipc.Envelope) {
		var req ipc.InferRequest
		_ = ipc.DecodePayload(env.Payload, &req)
		_ = ch.Reply(ctx, env.Channel, env.CorrelationID, ipc.KindAck, ipc.InferResponse{Tensors: req.Tensors})
	})
	ch.OnEvent(ipc.KindSeal, func(env ipc.Envelope) {
		_ = ch.Reply(ctx, env.Channel, env.CorrelationID, ipc.KindAck, ipc.SealResponse{Handle: 1})
	})
	ch.OnEvent(ipc.KindGetInfo, func(env ipc.Envelope) {
		_ = ch.Reply(ctx, env.Channel, env.CorrelationID, ipc.KindAck, ipc.GetInfoResponse{})
	})

	<-ch.Done()
}
