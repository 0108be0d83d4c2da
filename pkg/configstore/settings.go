// Package configstore manages the deployment settings that provisioning
// discovers and the query surfaces consume: workspace, lakehouse,
// eventhouse and graph model identifiers. Reads go through a TTL cache;
// writes invalidate the cache synchronously so the next read observes the
// new values.
package configstore

import (
	"github.com/go-playground/validator/v10"
)

// Setting keys as stored in the settings table.
const (
	KeyWorkspaceID   = "workspace_id"
	KeyLakehouseID   = "lakehouse_id"
	KeyEventhouseID  = "eventhouse_id"
	KeyKQLDatabaseID = "kql_database_id"
	KeyOntologyID    = "ontology_id"
	KeyGraphModelID  = "graph_model_id"
)

// Settings is the deployment configuration snapshot. Fields are filled in
// by provisioning as resources are created or discovered; operators can
// also set them directly through the config API.
type Settings struct {
	WorkspaceID   string `json:"workspace_id" validate:"omitempty,max=128"`
	LakehouseID   string `json:"lakehouse_id" validate:"omitempty,max=128"`
	EventhouseID  string `json:"eventhouse_id" validate:"omitempty,max=128"`
	KQLDatabaseID string `json:"kql_database_id" validate:"omitempty,max=128"`
	OntologyID    string `json:"ontology_id" validate:"omitempty,max=128"`
	GraphModelID  string `json:"graph_model_id" validate:"omitempty,max=128"`
}

var validate = validator.New()

// Validate checks field constraints.
func (s *Settings) Validate() error {
	return validate.Struct(s)
}

// Configured reports whether the deployment has a workspace to operate in.
func (s *Settings) Configured() bool {
	return s.WorkspaceID != ""
}

// QueryReady reports whether the graph query surface can serve requests.
func (s *Settings) QueryReady() bool {
	return s.WorkspaceID != "" && s.GraphModelID != ""
}

func (s *Settings) toMap() map[string]string {
	return map[string]string{
		KeyWorkspaceID:   s.WorkspaceID,
		KeyLakehouseID:   s.LakehouseID,
		KeyEventhouseID:  s.EventhouseID,
		KeyKQLDatabaseID: s.KQLDatabaseID,
		KeyOntologyID:    s.OntologyID,
		KeyGraphModelID:  s.GraphModelID,
	}
}

func settingsFromMap(m map[string]string) *Settings {
	return &Settings{
		WorkspaceID:   m[KeyWorkspaceID],
		LakehouseID:   m[KeyLakehouseID],
		EventhouseID:  m[KeyEventhouseID],
		KQLDatabaseID: m[KeyKQLDatabaseID],
		OntologyID:    m[KeyOntologyID],
		GraphModelID:  m[KeyGraphModelID],
	}
}
