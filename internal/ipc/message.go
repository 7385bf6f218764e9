// Package ipc implements the versioned, length-framed, CBOR-encoded
// channel a parent process uses to talk to a runner subprocess
// (spec.md §4.7, §6.3).
package ipc

import (
	"github.com/carton-run/carton/pkg/types"
)

// ChannelID identifies one of the independent logical streams
// multiplexed over a single physical connection, matching the source's
// ChannelId enum: separating RPC traffic from bulk filesystem/tensor
// transfer avoids head-of-line blocking between a slow VFS read and an
// unrelated inference call.
type ChannelID uint8

const (
	ChannelRpc ChannelID = iota
	ChannelFileSystem
	ChannelCartonData
)

func (c ChannelID) String() string {
	switch c {
	case ChannelRpc:
		return "rpc"
	case ChannelFileSystem:
		return "filesystem"
	case ChannelCartonData:
		return "carton_data"
	default:
		return "unknown"
	}
}

// Kind is the message vocabulary tag (spec.md §6.3). Each request kind
// has a matching Ack/Err response, dispatched by CorrelationID rather
// than by a separate response kind per request.
type Kind uint8

const (
	KindHello Kind = iota
	KindLoad
	KindPack
	KindSeal
	KindInfer
	KindGetInfo
	KindShutdown
	KindLog
	KindFsOpen
	KindFsRead
	KindFsList
	KindFsMetadata
	KindFsClose
	KindAck
	KindErr
)

// HelloMessage is exchanged immediately after spawn: each side lists the
// interface major versions it supports. The highest mutually-supported
// version selects the message vocabulary for the rest of the session
// (spec.md §4.7 Handshake).
type HelloMessage struct {
	SupportedMajorVersions []uint32 `cbor:"1,keyasint"`
}

// LoadRequest mirrors the source's RPCRequestData::Load variant.
type LoadRequest struct {
	FsToken                  uint64                    `cbor:"1,keyasint"`
	RunnerName               string                    `cbor:"2,keyasint"`
	RequiredFrameworkVersion string                    `cbor:"3,keyasint"`
	RunnerCompatVersion      uint64                    `cbor:"4,keyasint"`
	RunnerOpts               map[string]types.RunnerOpt `cbor:"5,keyasint"`
	VisibleDevice            types.Device              `cbor:"6,keyasint"`
	CartonManifestHash       string                    `cbor:"7,keyasint,omitempty"`
}

// PackRequest mirrors RPCRequestData::Pack.
type PackRequest struct {
	FsToken        uint64 `cbor:"1,keyasint"`
	InputPath      string `cbor:"2,keyasint"`
	TempOutputPath string `cbor:"3,keyasint"`
}

// PackResponse mirrors RPCResponseData::Pack.
type PackResponse struct {
	OutputPath string `cbor:"1,keyasint"`
}

// SealRequest asks the runner to pre-stage a tensor map for later
// InferRequest calls carrying only the resulting handle (spec.md §6.2's
// two-phase infer interface).
type SealRequest struct {
	Tensors map[string]WireTensor `cbor:"1,keyasint"`
}

// SealResponse mirrors RPCResponseData::Seal.
type SealResponse struct {
	Handle uint64 `cbor:"1,keyasint"`
}

// InferRequest carries either an inline tensor map or a prior seal
// handle, never both.
type InferRequest struct {
	SealHandle *uint64                `cbor:"1,keyasint,omitempty"`
	Tensors    map[string]WireTensor  `cbor:"2,keyasint,omitempty"`
}

// InferResponse mirrors RPCResponseData::Infer.
type InferResponse struct {
	Tensors map[string]WireTensor `cbor:"1,keyasint"`
}

// GetInfoRequest asks the runner to describe the loaded model.
type GetInfoRequest struct{}

// GetInfoResponse carries the runner's view of CartonInfo, used to cross
// check against the parent's own carton.toml parse.
type GetInfoResponse struct {
	Info types.CartonInfo `cbor:"1,keyasint"`
}

// ShutdownRequest asks the runner to exit cleanly.
type ShutdownRequest struct{}

// LogEvent is a one-way event (spec.md §4.7 "one-way events").
type LogEvent struct {
	Level   string `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
}

// ErrorResponse mirrors RPCResponseData::Error.
type ErrorResponse struct {
	Message string `cbor:"1,keyasint"`
}

// EmptyResponse mirrors RPCResponseData::Empty and is also used as the
// Ack payload for requests with no data to return (Load, Shutdown,
// FsClose).
type EmptyResponse struct{}

// FsOpenRequest/Response, FsReadRequest, FsReadChunk, FsListRequest/Response,
// FsMetadataRequest/Response, and FsCloseRequest implement §4.8's VFS
// calls over ChannelFileSystem.
type FsOpenRequest struct {
	Path string `cbor:"1,keyasint"`
}

type FsOpenResponse struct {
	Handle uint64 `cbor:"1,keyasint"`
}

type FsReadRequest struct {
	Handle uint64 `cbor:"1,keyasint"`
	Offset int64  `cbor:"2,keyasint"`
	Length int64  `cbor:"3,keyasint"`
}

// FsReadChunk is one frame of a streaming read response. Chunks of a
// single read arrive in offset order; End marks the final chunk.
type FsReadChunk struct {
	Offset int64  `cbor:"1,keyasint"`
	Data   []byte `cbor:"2,keyasint"`
	End    bool   `cbor:"3,keyasint"`
}

type FsListRequest struct {
	Dir string `cbor:"1,keyasint"`
}

type FsEntry struct {
	Name  string `cbor:"1,keyasint"`
	IsDir bool   `cbor:"2,keyasint"`
	Size  int64  `cbor:"3,keyasint"`
}

type FsListResponse struct {
	Entries []FsEntry `cbor:"1,keyasint"`
}

type FsMetadataRequest struct {
	Path string `cbor:"1,keyasint"`
}

type FsMetadataResponse struct {
	Size  int64 `cbor:"1,keyasint"`
	IsDir bool  `cbor:"2,keyasint"`
}

type FsCloseRequest struct {
	Handle uint64 `cbor:"1,keyasint"`
}
