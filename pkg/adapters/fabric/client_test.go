package fabric

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/pipeline"
)

// Static token source for tests.
type staticCredential struct{}

func (staticCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "test-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		BaseURL:    server.URL,
		Credential: staticCredential{},
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(workspaceList{})
	}))

	var list workspaceList
	if err := client.Get(context.Background(), "/workspaces", &list); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Expected bearer token header, got %q", gotAuth)
	}
}

func TestClientClassifiesThrottling(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := client.Get(context.Background(), "/workspaces", nil)
	if err == nil {
		t.Fatal("Expected error for 429 response")
	}
	if !adapters.IsTransient(err) {
		t.Error("429 should be classified transient")
	}
}

func TestClientClassifiesClientErrorsPermanent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errorCode":"InsufficientPrivileges","message":"no capacity access"}`))
	}))

	err := client.Get(context.Background(), "/workspaces", nil)
	if err == nil {
		t.Fatal("Expected error for 403 response")
	}
	if adapters.IsTransient(err) {
		t.Error("403 should not be classified transient")
	}
}

func TestWorkspaceAdapterExists(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(workspaceList{Value: []workspace{
			{ID: "ws-1", DisplayName: "demo-workspace"},
			{ID: "ws-2", DisplayName: "other"},
		}})
	}))
	adapter := NewWorkspaceAdapter(client)

	id, ok, err := adapter.Exists(context.Background(), adapters.Target{Name: "demo-workspace"})
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok || id != "ws-1" {
		t.Errorf("Expected ws-1 found, got id=%q ok=%v", id, ok)
	}

	_, ok, err = adapter.Exists(context.Background(), adapters.Target{Name: "missing"})
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("Expected missing workspace to report not found")
	}
}

func TestWorkspaceAdapterCreate(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(workspace{ID: "ws-new"})
	}))
	adapter := NewWorkspaceAdapter(client)

	target := adapters.Target{
		Name:   "demo-workspace",
		Params: map[string]string{"capacity_id": "cap-1"},
	}
	id, err := adapter.Create(context.Background(), target)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id != "ws-new" {
		t.Errorf("Expected ws-new, got %q", id)
	}
	if gotBody["capacityId"] != "cap-1" {
		t.Errorf("Expected capacity assignment in body, got %v", gotBody)
	}
}

func TestLakehouseAdapterUsesDiscoveredWorkspace(t *testing.T) {
	var gotPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(itemList{Value: []item{
			{ID: "lh-1", DisplayName: "demo-storage-prep", Type: itemTypeLakehouse},
		}})
	}))
	adapter := NewLakehouseAdapter(client)

	target := adapters.Target{
		Name:       "demo-storage-prep",
		Discovered: map[string]string{string(pipeline.StepWorkspace): "ws-1"},
	}
	id, ok, err := adapter.Exists(context.Background(), target)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok || id != "lh-1" {
		t.Errorf("Expected lh-1 found, got id=%q ok=%v", id, ok)
	}
	if gotPath != "/workspaces/ws-1/items" {
		t.Errorf("Expected workspace-scoped item listing, got %s", gotPath)
	}
}

func TestLakehouseAdapterRequiresWorkspace(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	adapter := NewLakehouseAdapter(client)

	_, _, err := adapter.Exists(context.Background(), adapters.Target{Name: "x"})
	if err == nil {
		t.Fatal("Expected error when no workspace identifier is available")
	}
}

func TestCreateItemResolvesAsyncCreate(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			// Async accept with no body.
			w.WriteHeader(http.StatusAccepted)
			return
		}
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(itemList{Value: []item{
			{ID: "eh-1", DisplayName: "demo-eventhouse-setup", Type: itemTypeEventhouse},
		}})
	}))

	id, err := client.createItem(context.Background(), "ws-1", itemTypeEventhouse, "demo-eventhouse-setup", nil)
	if err != nil {
		t.Fatalf("createItem failed: %v", err)
	}
	if id != "eh-1" {
		t.Errorf("Expected eh-1 from follow-up lookup, got %q", id)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected exactly one follow-up list, got %d", calls)
	}
}

func TestOntologyReadyStates(t *testing.T) {
	state := "Running"
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(graphModelStatus{IndexingState: state})
	}))
	adapter := NewOntologyAdapter(client)

	target := adapters.Target{
		Discovered: map[string]string{
			string(pipeline.StepWorkspace):     "ws-1",
			string(pipeline.StepOntologyBuild): "gm-1",
		},
	}

	ready, err := adapter.Ready(context.Background(), target)
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if ready {
		t.Error("Running state should not report ready")
	}

	state = "Succeeded"
	ready, err = adapter.Ready(context.Background(), target)
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if !ready {
		t.Error("Succeeded state should report ready")
	}

	state = "Failed"
	if _, err = adapter.Ready(context.Background(), target); err == nil {
		t.Error("Failed state should surface an error")
	}
}

func TestModelAdapterPrefersDiscoveredID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("No API call expected when the identifier was already discovered")
	}))
	adapter := NewModelAdapter(client)

	target := adapters.Target{
		Discovered: map[string]string{string(pipeline.StepOntologyBuild): "gm-1"},
	}
	id, ok, err := adapter.Exists(context.Background(), target)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok || id != "gm-1" {
		t.Errorf("Expected discovered gm-1, got id=%q ok=%v", id, ok)
	}
}
