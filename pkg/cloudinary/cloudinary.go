package cloudinary

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/cloudinary/cloudinary-go/v2/config"
)

// Config holds Cloudinary credentials (from env or config).
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
}

// Client stores generated documents on Cloudinary.
type Client interface {
	// UploadDocument stores file as a raw asset and returns its HTTPS URL.
	// Uploading the same publicID again replaces the stored document.
	UploadDocument(ctx context.Context, file io.Reader, folder, publicID string) (url string, err error)
}

const resourceTypeRaw = "raw"

// BuildRawURL returns the delivery URL of a raw asset. Raw public IDs keep
// their file extension.
func BuildRawURL(cloudName, folder, publicID string) string {
	if folder != "" {
		publicID = folder + "/" + publicID
	}
	return fmt.Sprintf("https://res.cloudinary.com/%s/raw/upload/%s", cloudName, publicID)
}

var overwrite = true

type clientImpl struct {
	cloudName string
	uploader  *uploader.API
}

func (c *clientImpl) UploadDocument(ctx context.Context, file io.Reader, folder, publicID string) (string, error) {
	result, err := c.uploader.Upload(ctx, file, uploader.UploadParams{
		Folder:       folder,
		PublicID:     publicID,
		ResourceType: resourceTypeRaw,
		Overwrite:    &overwrite,
	})
	if err != nil {
		return "", err
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload: %s", result.Error.Message)
	}
	if result.SecureURL == "" {
		return BuildRawURL(c.cloudName, folder, publicID), nil
	}
	return result.SecureURL, nil
}

// NewClientFromParams builds a Client from Cloudinary cloud name, API key, and secret.
func NewClientFromParams(cloudName, apiKey, apiSecret string) (Client, error) {
	cfg, err := config.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, err
	}
	up, err := uploader.NewWithConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	return &clientImpl{
		cloudName: cloudName,
		uploader:  up,
	}, nil
}
