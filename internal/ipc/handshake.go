package ipc

import (
	"context"

	"github.com/carton-run/carton/internal/cartonerr"
)

// SupportedMajorVersions lists every interface major version this core
// build understands. The core ships every past major version; runners
// ship exactly one (spec.md §4.7 Handshake).
var SupportedMajorVersions = []uint32{1}

// Handshake exchanges Hello messages over channelID and returns the
// highest mutually-supported major version. Once selected, the major
// version is immutable for the session.
func Handshake(ctx context.Context, ch *Channel, ourVersions []uint32) (uint32, error) {
	var resp HelloMessage
	if err := ch.Call(ctx, ChannelRpc, KindHello, HelloMessage{SupportedMajorVersions: ourVersions}, &resp); err != nil {
		return 0, cartonerr.Wrap(cartonerr.KindRunnerIncompatible, "ipc handshake failed", err)
	}
	best := negotiate(ourVersions, resp.SupportedMajorVersions)
	if best == 0 {
		return 0, cartonerr.New(cartonerr.KindRunnerIncompatible, "no mutually-supported interface major version")
	}
	return best, nil
}

func negotiate(ours, theirs []uint32) uint32 {
	oursSet := make(map[uint32]bool, len(ours))
	for _, v := range ours {
		oursSet[v] = true
	}
	var best uint32
	for _, v := range theirs {
		if oursSet[v] && v > best {
			best = v
		}
	}
	return best
}
