package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

type UploadResult struct {
	Key      string
	Location string
	ETag     string
}

// FileUploader stores member avatars in object storage.
type FileUploader interface {
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)

	Delete(ctx context.Context, key string) error

	GetPublicURL(key string) string
}

// AvatarKey builds the object key for a member avatar. The timestamp busts CDN caches
// when a member replaces their picture.
func AvatarKey(memberID, ext string, at time.Time) string {
	return fmt.Sprintf("avatars/%s/%d%s", memberID, at.Unix(), ext)
}
