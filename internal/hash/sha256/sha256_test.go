package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHash(t *testing.T) {
	t.Parallel()

	const full = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	tests := []struct {
		name   string
		hasher *Hasher
		want   string
	}{
		{name: "full", hasher: New(), want: full},
		{name: "truncated", hasher: NewTruncated(16), want: full[:16]},
		{name: "oversized", hasher: NewTruncated(128), want: full},
		{name: "zero", hasher: NewTruncated(0), want: full},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.hasher.Hash([]byte("hello world"))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
