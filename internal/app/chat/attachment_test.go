package chat

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigchat/internal/app/store"
	"sigchat/internal/pkg/errs"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestValidateFileSize(t *testing.T) {
	assert.Nil(t, ValidateFileSize(1))
	assert.Nil(t, ValidateFileSize(MaxAttachmentSize))

	err := ValidateFileSize(0)
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrInvalidAttachment, err.Code)

	err = ValidateFileSize(MaxAttachmentSize + 1)
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrFileSizeTooLarge, err.Code)
}

func TestAttachmentFromBytes_DetectsType(t *testing.T) {
	a, err := AttachmentFromBytes("screenshot", pngHeader)
	require.NoError(t, err)

	assert.Equal(t, "screenshot.png", a.Name)
	assert.Equal(t, "image/png", a.MimeType)
	assert.Equal(t, int64(len(pngHeader)), a.ByteSize)
	assert.True(t, strings.HasPrefix(a.EncodedContent, "data:image/png;base64,"))

	data, err := DecodeAttachment(a)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
}

func TestAttachmentFromBytes_KeepsExtensionAndStripsCharset(t *testing.T) {
	a, err := AttachmentFromBytes("notes.md", []byte("# heading\nsome text\n"))
	require.NoError(t, err)

	assert.Equal(t, "notes.md", a.Name)
	assert.Equal(t, "text/plain", a.MimeType)
	assert.True(t, strings.HasPrefix(a.EncodedContent, "data:text/plain;base64,"))
}

func TestAttachmentFromBytes_Rejects(t *testing.T) {
	_, err := AttachmentFromBytes("empty.txt", nil)
	assert.True(t, errs.HasCode(err, errs.ErrInvalidAttachment))

	_, err = AttachmentFromBytes("  ", []byte("x"))
	assert.True(t, errs.HasCode(err, errs.ErrInvalidAttachment))

	_, err = AttachmentFromBytes("big.bin", make([]byte, MaxAttachmentSize+1))
	assert.True(t, errs.HasCode(err, errs.ErrFileSizeTooLarge))
}

func TestNewFileAttachment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logo.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o600))

	a, err := NewFileAttachment(path)
	require.NoError(t, err)
	assert.Equal(t, "logo.png", a.Name)
	assert.Equal(t, "image/png", a.MimeType)

	_, err = NewFileAttachment(dir)
	assert.True(t, errs.HasCode(err, errs.ErrInvalidAttachment))

	_, err = NewFileAttachment(filepath.Join(dir, "missing.png"))
	assert.True(t, errs.HasCode(err, errs.ErrInvalidAttachment))
}

func TestDecodeAttachment_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   *store.FileAttachment
	}{
		{"nil", nil},
		{"not a data url", &store.FileAttachment{EncodedContent: "https://example.com/a.png"}},
		{"not base64", &store.FileAttachment{EncodedContent: "data:text/plain,hello"}},
		{"corrupt payload", &store.FileAttachment{EncodedContent: "data:text/plain;base64,!!!"}},
		{"size mismatch", &store.FileAttachment{
			ByteSize:       99,
			EncodedContent: "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("hello")),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAttachment(tt.in)
			assert.True(t, errs.HasCode(err, errs.ErrInvalidAttachment))
		})
	}
}
