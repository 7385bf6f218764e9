package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAndParseRoundTrip(t *testing.T) {
	m := Build(map[string]string{
		"model/weights.bin": "CAFEBABE",
		"carton.toml":       "deadbeef",
	})
	require.NotEmpty(t, m.SHA256)

	parsed, err := Parse(m.Bytes())
	require.NoError(t, err)
	require.Equal(t, m.SHA256, parsed.SHA256)
	require.Equal(t, "cafebabe", parsed.Entries["model/weights.bin"])
}

func TestParseRejectsSelfReference(t *testing.T) {
	_, err := Parse([]byte("MANIFEST=deadbeef\n"))
	require.Error(t, err)
}

func TestParseRejectsDuplicatePath(t *testing.T) {
	_, err := Parse([]byte("a=1\na=2\n"))
	require.Error(t, err)
}

func TestParseRejectsOutOfOrder(t *testing.T) {
	_, err := Parse([]byte("b=1\na=2\n"))
	require.Error(t, err)
}

func TestParseIdentityIsStableAcrossEquivalentInput(t *testing.T) {
	m1 := Build(map[string]string{"a": "1", "b": "2"})
	m2, err := Parse(m1.Bytes())
	require.NoError(t, err)
	require.Equal(t, m1.SHA256, m2.SHA256)
}
