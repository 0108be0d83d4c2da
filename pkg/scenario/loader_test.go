package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, name, scenarioID, graphConnector string) string {
	t.Helper()
	content := fmt.Sprintf("scenario_id: %s\nsources:\n  graph:\n    connector: %s\n", scenarioID, graphConnector)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", "scenario-a", "fabric-gql")
	writeManifest(t, dir, "b.yml", "scenario-b", "fabric-gql")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	loader := NewLoader(dir, nil)
	loaded, err := loader.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 manifests, got %d", len(loaded))
	}
	if got := loader.IDs(); !reflect.DeepEqual(got, []string{"scenario-a", "scenario-b"}) {
		t.Errorf("Expected sorted IDs, got %v", got)
	}
}

func TestLoadAllSkipsBrokenManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "good.yaml", "scenario-a", "fabric-gql")
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("scenario_id: [oops"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	loader := NewLoader(dir, nil)
	loaded, err := loader.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Errorf("Expected the broken manifest to be skipped, got %d loaded", len(loaded))
	}
}

func TestGetReturnsClone(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", "scenario-a", "fabric-gql")

	loader := NewLoader(dir, nil)
	if _, err := loader.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	cfg := loader.Get("scenario-a")
	if cfg == nil {
		t.Fatal("Expected scenario-a to be cached")
	}
	cfg.Sources[SourceGraph] = DataSource{Connector: "mutated"}

	if loader.Get("scenario-a").Connector(SourceGraph) != "fabric-gql" {
		t.Error("Mutation of a returned snapshot leaked into the cache")
	}

	if loader.Get("unknown") != nil {
		t.Error("Expected nil for unknown scenario")
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", "scenario-a", "fabric-gql")

	loader := NewLoader(dir, nil)
	if _, err := loader.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan map[string]*Config, 1)
	err := loader.Watch(ctx, func(loaded map[string]*Config) {
		select {
		case reloaded <- loaded:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer func() { _ = loader.StopWatching() }()

	writeManifest(t, dir, "b.yaml", "scenario-b", "fabric-gql")

	select {
	case loaded := <-reloaded:
		if _, ok := loaded["scenario-b"]; !ok {
			t.Errorf("Expected scenario-b after reload, got %v", loaded)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}

	if loader.Get("scenario-b") == nil {
		t.Error("Expected scenario-b in the cache after reload")
	}
}
