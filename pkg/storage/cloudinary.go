package storage

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// MediaStorage removes media that reviews reference by URL.
type MediaStorage interface {
	// DeleteMedia deletes an asset using its delivery URL.
	DeleteMedia(ctx context.Context, fileURL string) error
}

// Asset identifies a Cloudinary asset.
type Asset struct {
	ResourceType string
	PublicID     string
}

type cloudinaryStorage struct {
	cld *cloudinary.Cloudinary
}

// NewCloudinaryStorage creates a Cloudinary-backed MediaStorage. An empty
// cloudinaryURL falls back to the CLOUDINARY_URL environment variable.
func NewCloudinaryStorage(cloudinaryURL string) (MediaStorage, error) {
	var (
		cld *cloudinary.Cloudinary
		err error
	)
	if cloudinaryURL != "" {
		cld, err = cloudinary.NewFromURL(cloudinaryURL)
	} else {
		cld, err = cloudinary.New()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary client: %w", err)
	}
	cld.Config.URL.Secure = true

	return &cloudinaryStorage{cld: cld}, nil
}

func (s *cloudinaryStorage) DeleteMedia(ctx context.Context, fileURL string) error {
	if s == nil || s.cld == nil {
		return fmt.Errorf("cloudinary storage is not initialized")
	}

	asset, ok := ParseAsset(fileURL)
	if !ok {
		return fmt.Errorf("could not extract public ID from URL: %s", fileURL)
	}

	// Invalidate: true helps to clear CDN cache
	params := uploader.DestroyParams{
		PublicID:     asset.PublicID,
		ResourceType: asset.ResourceType,
		Invalidate:   api.Bool(true),
	}

	resp, err := s.cld.Upload.Destroy(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to delete media from cloudinary: %w", err)
	}

	if resp.Result != "ok" && resp.Result != "not found" {
		return fmt.Errorf("cloudinary destroy api returned result: %s", resp.Result)
	}

	return nil
}

// ParseAsset extracts the resource type and public ID from a Cloudinary URL.
// Example: https://res.cloudinary.com/demo/video/upload/v123456789/folder/clip.mp4 -> video, folder/clip
func ParseAsset(fileURL string) (Asset, bool) {
	u, err := url.Parse(fileURL)
	if err != nil || !strings.HasSuffix(u.Host, "cloudinary.com") {
		return Asset{}, false
	}

	// Path is /<cloud_name>/<resource_type>/upload/[v<version>/]<folder>/<file>.<ext>
	parts := strings.Split(u.Path, "/")
	uploadIndex := -1
	for i, p := range parts {
		if p == "upload" {
			uploadIndex = i
			break
		}
	}
	if uploadIndex < 1 || uploadIndex+1 >= len(parts) {
		return Asset{}, false
	}
	resourceType := parts[uploadIndex-1]

	relevantParts := parts[uploadIndex+1:]
	if len(relevantParts) > 1 && isVersion(relevantParts[0]) {
		relevantParts = relevantParts[1:]
	}

	publicIDWithExt := strings.Join(relevantParts, "/")
	publicID := strings.TrimSuffix(publicIDWithExt, filepath.Ext(publicIDWithExt))
	if publicID == "" {
		return Asset{}, false
	}
	return Asset{ResourceType: resourceType, PublicID: publicID}, true
}

func isVersion(segment string) bool {
	if len(segment) < 2 || segment[0] != 'v' {
		return false
	}
	for _, r := range segment[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
