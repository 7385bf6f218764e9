package httpapi

import (
	"context"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/carton-run/carton/internal/bytesource"
	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/pkg/types"
)

// openByteSource resolves a ByteSourceRef from POST /load into a concrete
// bytesource.ByteSource, dispatching on Kind the way internal/registry
// dispatches on runner name.
func openByteSource(ctx context.Context, ref types.ByteSourceRef) (bytesource.ByteSource, error) {
	switch ref.Kind {
	case types.ByteSourceLocal:
		if ref.Path == "" {
			return nil, cartonerr.New(cartonerr.KindByteSource, "local byte source requires path")
		}
		return bytesource.OpenLocal(ref.Path)
	case types.ByteSourceHTTP:
		if ref.URL == "" {
			return nil, cartonerr.New(cartonerr.KindByteSource, "http byte source requires url")
		}
		return bytesource.OpenHTTP(ctx, ref.URL, bytesource.WithClient(http.DefaultClient))
	case types.ByteSourceObject:
		if ref.Bucket == "" || ref.Key == "" {
			return nil, cartonerr.New(cartonerr.KindByteSource, "object store byte source requires bucket and key")
		}
		client, err := minio.New(ref.Endpoint, &minio.Options{
			Creds:  credentials.NewEnvMinio(),
			Secure: ref.UseTLS,
		})
		if err != nil {
			return nil, cartonerr.Wrap(cartonerr.KindByteSource, "constructing object store client", err)
		}
		return bytesource.OpenObjectStore(ctx, client, ref.Bucket, ref.Key)
	default:
		return nil, cartonerr.New(cartonerr.KindByteSource, "unknown byte source kind: "+string(ref.Kind))
	}
}
