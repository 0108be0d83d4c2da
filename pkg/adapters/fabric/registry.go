package fabric

import (
	"github.com/twinforge/twinforge/pkg/adapters"
)

// RegisterAll registers every Fabric adapter over the shared client. The
// upload adapter is built separately because it talks to OneLake storage
// rather than the REST API.
func RegisterAll(registry *adapters.Registry, client *Client, upload *UploadAdapter) {
	registry.Register(NewWorkspaceAdapter(client))
	registry.Register(NewLakehouseAdapter(client))
	registry.Register(NewEventhouseAdapter(client))
	registry.Register(NewTableAdapter(client, nil))
	registry.Register(NewIngestAdapter(client, ""))
	registry.Register(NewOntologyAdapter(client))
	registry.Register(NewModelAdapter(client))
	if upload != nil {
		registry.Register(upload)
	}
}
