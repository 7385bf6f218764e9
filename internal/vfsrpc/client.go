package vfsrpc

import (
	"bytes"
	"context"

	"github.com/carton-run/carton/internal/ipc"
)

// Client is the runner side's view of a Server. internal/orchestrator only
// runs a Server; this package's tests use Client to exercise a Server
// without a real subprocess.
type Client struct {
	ch *ipc.Channel
}

func NewClient(ch *ipc.Channel) *Client { return &Client{ch: ch} }

func (c *Client) Open(ctx context.Context, path string) (uint64, error) {
	var resp ipc.FsOpenResponse
	if err := c.ch.Call(ctx, ipc.ChannelFileSystem, ipc.KindFsOpen, ipc.FsOpenRequest{Path: path}, &resp); err != nil {
		return 0, err
	}
	return resp.Handle, nil
}

// ReadAll reads [offset, offset+length) from handle, collecting every
// streamed chunk in offset order until the terminal chunk arrives.
func (c *Client) ReadAll(ctx context.Context, handle uint64, offset, length int64) ([]byte, error) {
	respCh, release, err := c.ch.OpenStream(ctx, ipc.ChannelFileSystem, ipc.KindFsRead,
		ipc.FsReadRequest{Handle: handle, Offset: offset, Length: length})
	if err != nil {
		return nil, err
	}
	defer release()

	var buf bytes.Buffer
	for {
		select {
		case env, ok := <-respCh:
			if !ok {
				return buf.Bytes(), nil
			}
			if env.Kind == ipc.KindErr {
				var errResp ipc.ErrorResponse
				_ = ipc.DecodePayload(env.Payload, &errResp)
				return nil, errFromResponse(errResp)
			}
			var chunk ipc.FsReadChunk
			if err := ipc.DecodePayload(env.Payload, &chunk); err != nil {
				return nil, err
			}
			buf.Write(chunk.Data)
			if chunk.End {
				return buf.Bytes(), nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) List(ctx context.Context, dir string) ([]ipc.FsEntry, error) {
	var resp ipc.FsListResponse
	if err := c.ch.Call(ctx, ipc.ChannelFileSystem, ipc.KindFsList, ipc.FsListRequest{Dir: dir}, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) Metadata(ctx context.Context, path string) (ipc.FsMetadataResponse, error) {
	var resp ipc.FsMetadataResponse
	err := c.ch.Call(ctx, ipc.ChannelFileSystem, ipc.KindFsMetadata, ipc.FsMetadataRequest{Path: path}, &resp)
	return resp, err
}

func (c *Client) Close(ctx context.Context, handle uint64) error {
	return c.ch.Call(ctx, ipc.ChannelFileSystem, ipc.KindFsClose, ipc.FsCloseRequest{Handle: handle}, &ipc.EmptyResponse{})
}

func errFromResponse(r ipc.ErrorResponse) error {
	return &vfsError{msg: r.Message}
}

type vfsError struct{ msg string }

func (e *vfsError) Error() string { return e.msg }
