// Package vfsrpc exposes a resolved overlay filesystem to a runner
// subprocess over the IPC channel, so model files never need to be
// staged to local disk before load (spec.md §4.8).
package vfsrpc

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/internal/ipc"
)

// maxReadChunkSize bounds a single FsReadChunk frame. Backpressure on
// larger reads comes from the IPC channel's bounded write queue: a slow
// reader on the runner side eventually stalls the server's chunk loop
// rather than buffering an unbounded number of chunks in memory
// (spec.md §5 "Streaming VFS responses are paced by reader-signaled
// credits to bound memory usage" — here realized as backpressure on the
// channel's shared writer queue rather than a separate credit message,
// since a bounded channel already gives the same bound with less
// protocol surface).
const maxReadChunkSize = 64 * 1024

// Server answers FsOpen/FsRead/FsList/FsMetadata/FsClose requests
// arriving on a Channel's filesystem channel against fs. Handles are
// integers allocated by the server; closing an unknown handle is a
// no-op (spec.md §4.8).
type Server struct {
	fs afero.Fs

	mu       sync.Mutex
	handles  map[uint64]afero.File
	readLock map[uint64]*sync.Mutex // one lock per handle: at most one concurrent streaming read
	nextID   atomic.Uint64
}

// NewServer wires handlers for every VFS call onto ch's filesystem
// channel and returns a Server that must be Closed when the owning
// model instance unloads.
func NewServer(fs afero.Fs, ch *ipc.Channel) *Server {
	s := &Server{
		fs:       fs,
		handles:  make(map[uint64]afero.File),
		readLock: make(map[uint64]*sync.Mutex),
	}
	ch.OnEvent(ipc.KindFsOpen, func(env ipc.Envelope) { s.handleOpen(ch, env) })
	ch.OnEvent(ipc.KindFsRead, func(env ipc.Envelope) { s.handleRead(ch, env) })
	ch.OnEvent(ipc.KindFsList, func(env ipc.Envelope) { s.handleList(ch, env) })
	ch.OnEvent(ipc.KindFsMetadata, func(env ipc.Envelope) { s.handleMetadata(ch, env) })
	ch.OnEvent(ipc.KindFsClose, func(env ipc.Envelope) { s.handleClose(ch, env) })
	return s
}

func (s *Server) replyErr(ch *ipc.Channel, corrID uint64, err error) {
	_ = ch.Reply(context.Background(), ipc.ChannelFileSystem, corrID, ipc.KindErr, ipc.ErrorResponse{Message: err.Error()})
}

func (s *Server) handleOpen(ch *ipc.Channel, env ipc.Envelope) {
	var req ipc.FsOpenRequest
	if err := ipc.DecodePayload(env.Payload, &req); err != nil {
		s.replyErr(ch, env.CorrelationID, err)
		return
	}
	f, err := s.fs.Open(req.Path)
	if err != nil {
		if os.IsNotExist(err) {
			s.replyErr(ch, env.CorrelationID, cartonerr.New(cartonerr.KindFormatMissingEntry, "not found: "+req.Path))
		} else {
			s.replyErr(ch, env.CorrelationID, err)
		}
		return
	}
	id := s.nextID.Add(1)
	s.mu.Lock()
	s.handles[id] = f
	s.readLock[id] = &sync.Mutex{}
	s.mu.Unlock()

	_ = ch.Reply(context.Background(), ipc.ChannelFileSystem, env.CorrelationID, ipc.KindAck, ipc.FsOpenResponse{Handle: id})
}

func (s *Server) getHandle(id uint64) (afero.File, *sync.Mutex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.handles[id]
	return f, s.readLock[id], ok
}

func (s *Server) handleRead(ch *ipc.Channel, env ipc.Envelope) {
	var req ipc.FsReadRequest
	if err := ipc.DecodePayload(env.Payload, &req); err != nil {
		s.replyErr(ch, env.CorrelationID, err)
		return
	}
	f, lock, ok := s.getHandle(req.Handle)
	if !ok {
		s.replyErr(ch, env.CorrelationID, cartonerr.New(cartonerr.KindFormatMissingEntry, "unknown file handle"))
		return
	}

	lock.Lock()
	defer lock.Unlock()

	if _, err := f.Seek(req.Offset, io.SeekStart); err != nil {
		s.replyErr(ch, env.CorrelationID, err)
		return
	}

	remaining := req.Length
	offset := req.Offset
	buf := make([]byte, maxReadChunkSize)
	ctx := context.Background()
	for remaining > 0 {
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}
		n, readErr := f.Read(buf[:want])
		if n > 0 {
			end := readErr == io.EOF && int64(n) == remaining
			chunk := ipc.FsReadChunk{Offset: offset, Data: append([]byte{}, buf[:n]...), End: end || remaining-int64(n) == 0}
			if err := ch.Reply(ctx, ipc.ChannelFileSystem, env.CorrelationID, ipc.KindFsRead, chunk); err != nil {
				return
			}
			offset += int64(n)
			remaining -= int64(n)
		}
		if readErr != nil {
			if readErr != io.EOF {
				s.replyErr(ch, env.CorrelationID, readErr)
			} else if remaining > 0 {
				// short read at EOF: send a terminal empty chunk
				_ = ch.Reply(ctx, ipc.ChannelFileSystem, env.CorrelationID, ipc.KindFsRead, ipc.FsReadChunk{Offset: offset, End: true})
			}
			return
		}
	}
	if req.Length == 0 {
		_ = ch.Reply(ctx, ipc.ChannelFileSystem, env.CorrelationID, ipc.KindFsRead, ipc.FsReadChunk{Offset: offset, End: true})
	}
}

func (s *Server) handleList(ch *ipc.Channel, env ipc.Envelope) {
	var req ipc.FsListRequest
	if err := ipc.DecodePayload(env.Payload, &req); err != nil {
		s.replyErr(ch, env.CorrelationID, err)
		return
	}
	entries, err := afero.ReadDir(s.fs, req.Dir)
	if err != nil {
		s.replyErr(ch, env.CorrelationID, err)
		return
	}
	resp := ipc.FsListResponse{}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, ipc.FsEntry{Name: e.Name(), IsDir: e.IsDir(), Size: e.Size()})
	}
	_ = ch.Reply(context.Background(), ipc.ChannelFileSystem, env.CorrelationID, ipc.KindAck, resp)
}

func (s *Server) handleMetadata(ch *ipc.Channel, env ipc.Envelope) {
	var req ipc.FsMetadataRequest
	if err := ipc.DecodePayload(env.Payload, &req); err != nil {
		s.replyErr(ch, env.CorrelationID, err)
		return
	}
	info, err := s.fs.Stat(req.Path)
	if err != nil {
		if os.IsNotExist(err) {
			s.replyErr(ch, env.CorrelationID, cartonerr.New(cartonerr.KindFormatMissingEntry, "not found: "+req.Path))
		} else {
			s.replyErr(ch, env.CorrelationID, err)
		}
		return
	}
	_ = ch.Reply(context.Background(), ipc.ChannelFileSystem, env.CorrelationID, ipc.KindAck,
		ipc.FsMetadataResponse{Size: info.Size(), IsDir: info.IsDir()})
}

func (s *Server) handleClose(ch *ipc.Channel, env ipc.Envelope) {
	var req ipc.FsCloseRequest
	if err := ipc.DecodePayload(env.Payload, &req); err != nil {
		s.replyErr(ch, env.CorrelationID, err)
		return
	}
	s.mu.Lock()
	f, ok := s.handles[req.Handle]
	delete(s.handles, req.Handle)
	delete(s.readLock, req.Handle)
	s.mu.Unlock()
	if ok {
		_ = f.Close()
	}
	_ = ch.Reply(context.Background(), ipc.ChannelFileSystem, env.CorrelationID, ipc.KindAck, ipc.EmptyResponse{})
}

// Close invalidates every open handle, as happens when the owning model
// is unloaded (spec.md §4.8: "a handle is invalidated if the model is
// unloaded").
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.handles {
		_ = f.Close()
		delete(s.handles, id)
		delete(s.readLock, id)
	}
}
