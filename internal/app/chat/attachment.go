package chat

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"sigchat/internal/app/store"
	"sigchat/internal/pkg/errs"
)

const (
	// MaxAttachmentSizeMB is the maximum allowed file size in megabytes.
	MaxAttachmentSizeMB = 5

	// MaxAttachmentSize is the maximum allowed file size in bytes.
	MaxAttachmentSize = MaxAttachmentSizeMB * 1024 * 1024

	dataURLPrefix = "data:"
	base64Marker  = ";base64,"
)

// ValidateFileSize checks if the provided file size is within acceptable limits.
func ValidateFileSize(fileSize int64) *errs.CustomError {
	if fileSize <= 0 {
		return errs.NewError(errs.ErrInvalidAttachment, "empty file")
	}

	if fileSize > MaxAttachmentSize {
		return errs.NewError(errs.ErrFileSizeTooLarge)
	}

	return nil
}

// NewFileAttachment reads the file at path and encodes it as an attachment.
func NewFileAttachment(path string) (*store.FileAttachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInvalidAttachment, err, "cannot read file")
	}
	if info.IsDir() {
		return nil, errs.NewError(errs.ErrInvalidAttachment, "is a directory")
	}
	if customErr := ValidateFileSize(info.Size()); customErr != nil {
		return nil, customErr
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInvalidAttachment, err, "cannot read file")
	}

	return AttachmentFromBytes(filepath.Base(path), data)
}

// AttachmentFromBytes detects the MIME type of data and encodes it as a data URL.
// A name without an extension gets the one matching the detected type.
func AttachmentFromBytes(name string, data []byte) (*store.FileAttachment, error) {
	if customErr := ValidateFileSize(int64(len(data))); customErr != nil {
		return nil, customErr
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.NewError(errs.ErrInvalidAttachment, "missing file name")
	}

	mtype := mimetype.Detect(data)
	if filepath.Ext(name) == "" {
		name += mtype.Extension()
	}

	// parameters such as charset are dropped so the media type fits the data URL header
	mediaType, _, _ := strings.Cut(mtype.String(), ";")

	return &store.FileAttachment{
		Name:           name,
		ByteSize:       int64(len(data)),
		MimeType:       mediaType,
		EncodedContent: dataURLPrefix + mediaType + base64Marker + base64.StdEncoding.EncodeToString(data),
	}, nil
}

// DecodeAttachment returns the raw bytes carried by an attachment's data URL.
func DecodeAttachment(a *store.FileAttachment) ([]byte, error) {
	if a == nil {
		return nil, errs.NewError(errs.ErrInvalidAttachment, "no attachment")
	}

	rest, ok := strings.CutPrefix(a.EncodedContent, dataURLPrefix)
	if !ok {
		return nil, errs.NewError(errs.ErrInvalidAttachment, "not a data URL")
	}

	_, payload, ok := strings.Cut(rest, base64Marker)
	if !ok {
		return nil, errs.NewError(errs.ErrInvalidAttachment, "data URL is not base64")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInvalidAttachment, err, "corrupt base64 payload")
	}

	if a.ByteSize > 0 && int64(len(data)) != a.ByteSize {
		return nil, errs.NewError(errs.ErrInvalidAttachment, fmt.Sprintf("size %d does not match declared %d", len(data), a.ByteSize))
	}
	return data, nil
}
