package fabric

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/pipeline"
	"github.com/twinforge/twinforge/pkg/telemetry"
)

const defaultOneLakeEndpoint = "https://onelake.blob.fabric.microsoft.com"

// uploadMarker is written after all entity files land; its presence is the
// existence signal that makes re-running the upload a no-op.
const uploadMarker = "_upload_complete"

// UploadAdapter bulk-uploads entity data files into the lakehouse's OneLake
// storage.
type UploadAdapter struct {
	client *azblob.Client
	logger *telemetry.Logger

	// dataDir is the default local directory holding entity files; a
	// scenario can override it with the data_dir parameter.
	dataDir string
}

// NewUploadAdapter creates the upload adapter against a OneLake endpoint.
func NewUploadAdapter(endpoint string, cred azcore.TokenCredential, dataDir string, logger *telemetry.Logger) (*UploadAdapter, error) {
	if endpoint == "" {
		endpoint = defaultOneLakeEndpoint
	}
	if logger == nil {
		logger = telemetry.NewTestLogger()
	}

	client, err := azblob.NewClient(endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create onelake client: %w", err)
	}

	return &UploadAdapter{
		client:  client,
		logger:  logger.WithComponent("upload-adapter"),
		dataDir: dataDir,
	}, nil
}

// Kind implements adapters.Adapter.
func (a *UploadAdapter) Kind() string { return adapters.KindUpload }

// lakehousePath returns the OneLake container (the workspace) and the blob
// prefix inside the lakehouse's Files area.
func (a *UploadAdapter) lakehousePath(target adapters.Target) (container, prefix string, err error) {
	workspaceID, err := workspaceIDFor(target)
	if err != nil {
		return "", "", err
	}
	lakehouseID := target.DiscoveredID(string(pipeline.StepStoragePrep))
	if lakehouseID == "" {
		lakehouseID = target.Param("lakehouse_id", "")
	}
	if lakehouseID == "" {
		return "", "", fmt.Errorf("no lakehouse identifier available for upload")
	}
	return workspaceID, lakehouseID + "/Files/entities", nil
}

// Exists reports whether a completed upload marker is present.
func (a *UploadAdapter) Exists(ctx context.Context, target adapters.Target) (string, bool, error) {
	container, prefix, err := a.lakehousePath(target)
	if err != nil {
		return "", false, err
	}

	blobClient := a.client.ServiceClient().NewContainerClient(container).NewBlobClient(prefix + "/" + uploadMarker)
	_, err = blobClient.GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return "", false, nil
		}
		return "", false, adapters.MarkTransient(fmt.Errorf("check upload marker: %w", err))
	}
	return prefix, true, nil
}

// Create implements adapters.Adapter; upload is a populate-only step.
func (a *UploadAdapter) Create(ctx context.Context, target adapters.Target) (string, error) {
	return "", adapters.ErrNotSupported
}

// Populate uploads every entity file and finishes with the marker blob. A
// rerun after a partial upload overwrites cleanly.
func (a *UploadAdapter) Populate(ctx context.Context, target adapters.Target) error {
	container, prefix, err := a.lakehousePath(target)
	if err != nil {
		return err
	}

	dataDir := target.Param("data_dir", a.dataDir)
	if dataDir == "" {
		return fmt.Errorf("no data directory configured for upload")
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return fmt.Errorf("read data directory %s: %w", dataDir, err)
	}

	uploaded := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		file, err := os.Open(filepath.Join(dataDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("open %s: %w", entry.Name(), err)
		}
		_, err = a.client.UploadFile(ctx, container, prefix+"/"+entry.Name(), file, nil)
		_ = file.Close()
		if err != nil {
			return adapters.MarkTransient(fmt.Errorf("upload %s: %w", entry.Name(), err))
		}
		uploaded++
	}

	if uploaded == 0 {
		return fmt.Errorf("no entity files found in %s", dataDir)
	}

	_, err = a.client.UploadBuffer(ctx, container, prefix+"/"+uploadMarker, []byte("complete"), nil)
	if err != nil {
		return adapters.MarkTransient(fmt.Errorf("write upload marker: %w", err))
	}

	a.logger.Info("entity files uploaded", "count", uploaded, "prefix", prefix)
	return nil
}
