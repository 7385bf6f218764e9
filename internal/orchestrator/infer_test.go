package orchestrator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/internal/ipc"
	"github.com/carton-run/carton/internal/tensor"
	"github.com/carton-run/carton/pkg/types"
)

// newFakeRunnerInstance wires an Instance to a scripted peer standing in
// for a runner subprocess, the same pattern internal/vfsrpc's tests use
// for a Server without a real subprocess.
func newFakeRunnerInstance(t *testing.T) (*Instance, net.Conn) {
	t.Helper()
	clientConn, peerConn := net.Pipe()
	ch := ipc.NewChannel(clientConn, zerolog.Nop())
	t.Cleanup(func() { ch.Close() })

	return &Instance{
		log:      zerolog.Nop(),
		process:  &RunnerProcess{Channel: ch},
		stateCh:  make(chan StateChange, 8),
	}, peerConn
}

func TestInstanceInferRoundTrip(t *testing.T) {
	in, peer := newFakeRunnerInstance(t)
	defer peer.Close()

	go func() {
		env, err := ipc.ReadFrame(peer)
		if err != nil {
			return
		}
		var req ipc.InferRequest
		require.NoError(t, ipc.DecodePayload(env.Payload, &req))
		require.Contains(t, req.Tensors, "x")

		resp := ipc.InferResponse{Tensors: req.Tensors}
		require.NoError(t, writeReply(peer, env, ipc.KindAck, resp))
	}()

	x := tensor.Tensor{
		DType:   types.DTypeFloat32,
		Shape:   []uint64{2},
		Storage: tensor.NewInlineStorage([]byte{0, 0, 0, 0, 0, 0, 128, 63}),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	out, err := in.Infer(ctx, map[string]tensor.Tensor{"x": x})
	require.NoError(t, err)
	require.Contains(t, out, "x")
	require.Equal(t, []uint64{2}, out["x"].Shape)
}

func TestInstanceSealThenInferSealed(t *testing.T) {
	in, peer := newFakeRunnerInstance(t)
	defer peer.Close()

	go func() {
		sealEnv, err := ipc.ReadFrame(peer)
		require.NoError(t, err)
		require.NoError(t, writeReply(peer, sealEnv, ipc.KindAck, ipc.SealResponse{Handle: 42}))

		inferEnv, err := ipc.ReadFrame(peer)
		require.NoError(t, err)
		var req ipc.InferRequest
		require.NoError(t, ipc.DecodePayload(inferEnv.Payload, &req))
		require.NotNil(t, req.SealHandle)
		require.EqualValues(t, 42, *req.SealHandle)
		require.NoError(t, writeReply(peer, inferEnv, ipc.KindAck, ipc.InferResponse{Tensors: map[string]ipc.WireTensor{}}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	handle, err := in.Seal(ctx, map[string]tensor.Tensor{})
	require.NoError(t, err)
	require.EqualValues(t, 42, handle)

	out, err := in.InferSealed(ctx, handle)
	require.NoError(t, err)
	require.Empty(t, out)
}

// batchBoundSpecs mirrors spec.md §8 scenario 5: two inputs, each with
// shape [batch, N], sharing the "batch" symbol.
func batchBoundSpecs(secondDim uint64) []types.TensorSpec {
	dims := func(n uint64) types.ShapeKind {
		return types.ShapeKind{Tag: types.ShapeSequence, Dims: []types.ShapeDim{
			{Kind: types.DimSymbol, Symbol: "batch"},
			{Kind: types.DimFixed, Fixed: n},
		}}
	}
	return []types.TensorSpec{
		{Name: "x", DType: types.DTypeFloat32, Shape: dims(3)},
		{Name: "y", DType: types.DTypeFloat32, Shape: dims(secondDim)},
	}
}

func tensorOfShape(shape ...uint64) tensor.Tensor {
	n := uint64(1)
	for _, d := range shape {
		n *= d
	}
	return tensor.Tensor{DType: types.DTypeFloat32, Shape: shape, Storage: tensor.NewInlineStorage(make([]byte, n*4))}
}

func TestCheckSymbolBindingRejectsMismatchedBatchDim(t *testing.T) {
	specs := batchBoundSpecs(10)
	inputs := map[string]tensor.Tensor{
		"x": tensorOfShape(2, 3),
		"y": tensorOfShape(3, 10),
	}
	err := checkSymbolBinding(specs, inputs)
	require.Error(t, err)
	require.True(t, cartonerr.Is(err, cartonerr.KindInferInputMismatch))
}

func TestCheckSymbolBindingAcceptsConsistentBatchDim(t *testing.T) {
	specs := batchBoundSpecs(10)
	inputs := map[string]tensor.Tensor{
		"x": tensorOfShape(2, 3),
		"y": tensorOfShape(2, 10),
	}
	require.Nil(t, checkSymbolBinding(specs, inputs))
}

func TestCheckSymbolBindingRejectsWrongFixedDim(t *testing.T) {
	specs := batchBoundSpecs(10)
	inputs := map[string]tensor.Tensor{
		"x": tensorOfShape(2, 4), // model declares 3, not 4
	}
	err := checkSymbolBinding(specs, inputs)
	require.Error(t, err)
}

func TestCheckSymbolBindingIgnoresInputsWithNoMatchingSpec(t *testing.T) {
	require.Nil(t, checkSymbolBinding(nil, map[string]tensor.Tensor{"x": tensorOfShape(2, 3)}))
}

// TestInstanceInferRejectsMismatchedBatchDim exercises the same scenario
// through Instance.Infer end to end, asserting no request ever reaches
// the runner peer.
func TestInstanceInferRejectsMismatchedBatchDim(t *testing.T) {
	in, peer := newFakeRunnerInstance(t)
	defer peer.Close()
	in.Info = types.CartonInfo{Inputs: batchBoundSpecs(10)}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := in.Infer(ctx, map[string]tensor.Tensor{
		"x": tensorOfShape(2, 3),
		"y": tensorOfShape(3, 10),
	})
	require.Error(t, err)
	require.True(t, cartonerr.Is(err, cartonerr.KindInferInputMismatch))
}

func TestFromWireMapRejectsUnresolvedSharedMemory(t *testing.T) {
	_, err := fromWireMap(map[string]ipc.WireTensor{
		"y": {DType: types.DTypeFloat32, Shared: &ipc.SharedMemoryRef{FdID: 1, Offset: 0, Length: 4}},
	})
	require.Error(t, err)
}

func writeReply(conn net.Conn, req ipc.Envelope, kind ipc.Kind, response any) error {
	payload, err := ipc.EncodePayload(response)
	if err != nil {
		return err
	}
	return ipc.WriteFrame(conn, ipc.Envelope{
		Channel:       req.Channel,
		CorrelationID: req.CorrelationID,
		Kind:          kind,
		Payload:       payload,
	})
}
