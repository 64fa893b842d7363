package upload_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/sensorsink/pkg/upload"
)

func TestParseContentRange(t *testing.T) {
	t.Run("ValidRanges", func(t *testing.T) {
		tests := []struct {
			header string
			want   upload.ContentRange
		}{
			{"bytes 0-99/100", upload.ContentRange{From: 0, To: 99, Total: 100}},
			{"bytes 0-0/1", upload.ContentRange{From: 0, To: 0, Total: 1}},
			{"bytes 50-99/100", upload.ContentRange{From: 50, To: 99, Total: 100}},
			{"bytes 0-49/100", upload.ContentRange{From: 0, To: 49, Total: 100}},
		}
		for _, tt := range tests {
			cr, err := upload.ParseContentRange(tt.header)
			require.NoError(t, err, tt.header)
			assert.Equal(t, tt.want, cr, tt.header)
		}
	})

	t.Run("MalformedRanges", func(t *testing.T) {
		headers := []string{
			"",
			"bytes",
			"bytes 0-99",
			"bytes 0-99/",
			"bytes -99/100",
			"bytes 0-/100",
			"bytes a-b/c",
			"bytes 0-99/100 extra",
			"bytes +0-99/100",
			"bytes 0--99/100",
			"bytes 99-0/100",   // reversed span
			"bytes 0-100/100",  // to beyond total
			"bytes */100",      // status form, not a chunk range
			"Bytes 0-99/100",   // case matters
			"bytes  0-99/100",  // double space
			"bytes 0 - 99/100", // inner spaces
		}
		for _, h := range headers {
			_, err := upload.ParseContentRange(h)
			assert.ErrorIs(t, err, upload.ErrUnparsable, "header %q", h)
		}
	})

	t.Run("SizeAndIsFinal", func(t *testing.T) {
		cr, err := upload.ParseContentRange("bytes 50-99/100")
		require.NoError(t, err)
		assert.Equal(t, int64(50), cr.Size())
		assert.True(t, cr.IsFinal())

		cr, err = upload.ParseContentRange("bytes 0-49/100")
		require.NoError(t, err)
		assert.Equal(t, int64(50), cr.Size())
		assert.False(t, cr.IsFinal())
	})
}

func TestParseStatusRange(t *testing.T) {
	total, err := upload.ParseStatusRange("bytes */100")
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)

	for _, h := range []string{"", "bytes */", "bytes */abc", "bytes */-1", "bytes 0-99/100"} {
		_, err := upload.ParseStatusRange(h)
		assert.ErrorIs(t, err, upload.ErrUnparsable, "header %q", h)
	}
}

func TestParseDeclaredSize(t *testing.T) {
	const limit = 1024

	size, err := upload.ParseDeclaredSize("512", limit)
	require.NoError(t, err)
	assert.Equal(t, int64(512), size)

	size, err = upload.ParseDeclaredSize("1024", limit)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), size)

	t.Run("AboveLimit", func(t *testing.T) {
		_, err := upload.ParseDeclaredSize("1025", limit)
		assert.ErrorIs(t, err, upload.ErrPayloadTooLarge)
	})

	t.Run("Unparsable", func(t *testing.T) {
		for _, h := range []string{"", "abc", "-1", "+5", "0", " 12"} {
			_, err := upload.ParseDeclaredSize(h, limit)
			assert.ErrorIs(t, err, upload.ErrUnparsable, "header %q", h)
		}
	})
}
