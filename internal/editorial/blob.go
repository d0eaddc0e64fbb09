package editorial

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/database"
)

// uploader is the part of *azblob.Client the blob queue uses.
type uploader interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// BlobQueue stores each request as a JSON blob named
// followups/{region}/{YYYY-MM-DD}/{id}.json, where an editorial tool can
// pick it up.
type BlobQueue struct {
	client    uploader
	container string
	regions   RegionResolver
}

// NewBlobQueue connects to the storage account with the default Azure
// credential chain and makes sure the container exists.
func NewBlobQueue(accountURL, container string, regions RegionResolver) (*BlobQueue, error) {
	if container == "" {
		container = "followups"
	}
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}
	client, err := azblob.NewClient(accountURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}

	if _, err := client.CreateContainer(context.Background(), container, nil); err != nil {
		if !strings.Contains(err.Error(), "ContainerAlreadyExists") {
			return nil, fmt.Errorf("creating container %s: %w", container, err)
		}
		logrus.Debugf("Container %s already exists", container)
	}

	return &BlobQueue{client: client, container: container, regions: regions}, nil
}

// BlobName returns where a request is stored.
func BlobName(region string, req database.FollowUpRequest) string {
	if region == "" {
		region = "unknown"
	}
	return fmt.Sprintf("followups/%s/%s/%s.json", region, database.FormatDay(req.CreatedAt), req.ID)
}

func (b *BlobQueue) Publish(ctx context.Context, req database.FollowUpRequest) error {
	var region string
	if b.regions != nil {
		slug, err := b.regions.GetThreadRegionSlug(req.ThreadID)
		if err != nil {
			return fmt.Errorf("resolving region of thread %d: %w", req.ThreadID, err)
		}
		region = slug
	}

	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}

	name := BlobName(region, req)
	if _, err := b.client.UploadBuffer(ctx, b.container, name, data, nil); err != nil {
		return fmt.Errorf("uploading blob %s: %w", name, err)
	}
	logrus.Debugf("Stored follow-up request %s in %s", req.ID, name)
	return nil
}
