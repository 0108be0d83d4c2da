package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/twinforge/twinforge/pkg/pipeline"
	"github.com/twinforge/twinforge/pkg/telemetry"
)

const (
	defaultCosmosTimeout  = 30 * time.Second
	defaultCosmosMaxRows  = 1000
	defaultCosmosPoolSize = 10
)

// CosmosConfig holds connection settings for the Cosmos DB backend. The
// account must expose the MongoDB wire protocol.
type CosmosConfig struct {
	URI        string
	Database   string
	Collection string

	MaxPoolSize uint64
	MinPoolSize uint64
	Timeout     time.Duration
	MaxRows     int64
}

// CosmosBackend serves telemetry queries from a Cosmos DB collection.
// Queries are JSON filter documents; the connection is established lazily
// on first use.
type CosmosBackend struct {
	cfg    CosmosConfig
	logger *telemetry.Logger

	mu     sync.Mutex
	client *mongo.Client
}

// NewCosmosBackend creates the cosmosdb-nosql backend. The connection is
// not opened until the first query.
func NewCosmosBackend(cfg CosmosConfig, logger *telemetry.Logger) (*CosmosBackend, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("cosmos backend requires a connection URI")
	}
	if cfg.Database == "" || cfg.Collection == "" {
		return nil, fmt.Errorf("cosmos backend requires database and collection names")
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = defaultCosmosPoolSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCosmosTimeout
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultCosmosMaxRows
	}
	if logger == nil {
		logger = telemetry.NewTestLogger()
	}
	return &CosmosBackend{cfg: cfg, logger: logger.WithComponent("cosmos")}, nil
}

// Name implements QueryBackend.
func (b *CosmosBackend) Name() string { return pipeline.ConnectorCosmosNoSQL }

func (b *CosmosBackend) connect(ctx context.Context) (*mongo.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}

	clientOpts := options.Client().
		ApplyURI(b.cfg.URI).
		SetMaxPoolSize(b.cfg.MaxPoolSize).
		SetMinPoolSize(b.cfg.MinPoolSize).
		SetConnectTimeout(b.cfg.Timeout).
		SetServerSelectionTimeout(b.cfg.Timeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	connectCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to cosmos: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping cosmos: %w", err)
	}

	b.logger.Info("Connected to Cosmos DB",
		"database", b.cfg.Database,
		"collection", b.cfg.Collection)
	b.client = client
	return client, nil
}

// Query runs a find against the configured collection. The query string is
// a JSON filter document (empty means match all). Recognized params:
// "collection" overrides the configured collection, "limit" caps the row
// count below the configured maximum.
func (b *CosmosBackend) Query(ctx context.Context, query string, params map[string]any) (*Result, error) {
	filter := bson.M{}
	if query != "" {
		if err := json.Unmarshal([]byte(query), &filter); err != nil {
			return nil, pipeline.NewValidationError(
				fmt.Sprintf("query is not a valid JSON filter document: %v", err), err)
		}
	}

	collection := b.cfg.Collection
	if override, ok := params["collection"].(string); ok && override != "" {
		collection = override
	}
	limit := b.cfg.MaxRows
	if requested, ok := asInt64(params["limit"]); ok && requested > 0 && requested < limit {
		limit = requested
	}

	client, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	cursor, err := client.Database(b.cfg.Database).Collection(collection).
		Find(queryCtx, filter, options.Find().SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("cosmos find: %w", err)
	}
	defer cursor.Close(queryCtx)

	var docs []bson.M
	if err := cursor.All(queryCtx, &docs); err != nil {
		return nil, fmt.Errorf("cosmos read results: %w", err)
	}
	return tabulate(docs), nil
}

// Close disconnects the underlying client if one was opened.
func (b *CosmosBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Disconnect(ctx)
	b.client = nil
	return err
}

// tabulate flattens documents into the uniform columnar result. Columns are
// the sorted union of top-level keys; missing fields are nil.
func tabulate(docs []bson.M) *Result {
	keySet := make(map[string]struct{})
	for _, doc := range docs {
		for k := range doc {
			keySet[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(keySet))
	for k := range keySet {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	rows := make([][]any, len(docs))
	for i, doc := range docs {
		row := make([]any, len(columns))
		for j, col := range columns {
			if v, ok := doc[col]; ok {
				row[j] = normalizeValue(v)
			}
		}
		rows[i] = row
	}
	return &Result{Columns: columns, Rows: rows}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
