package types

// ByteSourceKind names where a byte source's bytes come from, for the HTTP
// load request body and for status reporting.
type ByteSourceKind string

const (
	ByteSourceLocal  ByteSourceKind = "local"
	ByteSourceHTTP   ByteSourceKind = "http"
	ByteSourceObject ByteSourceKind = "object_store"
)

// ByteSourceRef describes where to fetch a carton's bytes from, as accepted
// by the HTTP load endpoint. Exactly one of Path/URL/(Bucket+Key) is used
// depending on Kind.
type ByteSourceRef struct {
	Kind ByteSourceKind `json:"kind" example:"local"`

	Path string `json:"path,omitempty" example:"/var/lib/carton/models/tinyllama.carton"`
	URL  string `json:"url,omitempty" example:"https://example.com/models/tinyllama.carton"`

	Endpoint string `json:"endpoint,omitempty" example:"s3.us-east-1.amazonaws.com"`
	Bucket   string `json:"bucket,omitempty" example:"my-models"`
	Key      string `json:"key,omitempty" example:"tinyllama.carton"`
	UseTLS   bool   `json:"use_tls,omitempty"`
}
