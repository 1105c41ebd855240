// Package audit mirrors ledger entries into Elasticsearch so support staff
// can search a user's history without touching the primary store.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/pkg/events"
)

const entryMapping = `{
	"mappings": {
		"properties": {
			"entry_id": { "type": "keyword" },
			"user_id": { "type": "keyword" },
			"ledger": { "type": "keyword" },
			"kind": { "type": "keyword" },
			"reference_id": { "type": "keyword" },
			"amount": { "type": "scaled_float", "scaling_factor": 100000000 },
			"balance": { "type": "scaled_float", "scaling_factor": 100000000 },
			"description": { "type": "text" },
			"occurred_at": { "type": "date" }
		}
	}
}`

// Config holds connection options for the audit index
type Config struct {
	URL         string
	Username    string
	Password    string
	IndexPrefix string
	// Transport overrides the HTTP transport, used by tests
	Transport http.RoundTripper
}

// Indexer writes balance events to an Elasticsearch index, one document per entry
type Indexer struct {
	client *elasticsearch.Client
	index  string
	log    *logging.Logger
}

// NewIndexer connects to Elasticsearch and makes sure the entry index exists
func NewIndexer(ctx context.Context, config Config) (*Indexer, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{config.URL},
		Transport: config.Transport,
	}
	if config.Username != "" && config.Password != "" {
		cfg.Username = config.Username
		cfg.Password = config.Password
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Elasticsearch client: %w", err)
	}

	prefix := config.IndexPrefix
	if prefix == "" {
		prefix = "pointledger"
	}

	idx := &Indexer{
		client: client,
		index:  prefix + "_ledger_entries",
		log:    logging.Default.WithField("component", "audit"),
	}
	if err := idx.initIndex(ctx); err != nil {
		return nil, fmt.Errorf("error initializing index: %w", err)
	}
	return idx, nil
}

// Index is the name of the entry index
func (i *Indexer) Index() string {
	return i.index
}

func (i *Indexer) initIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.index}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error checking if entry index exists: %w", err)
	}
	res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		return nil
	}

	req := esapi.IndicesCreateRequest{
		Index: i.index,
		Body:  bytes.NewReader([]byte(entryMapping)),
	}
	created, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("error creating entry index: %w", err)
	}
	defer created.Body.Close()

	if created.IsError() {
		return fmt.Errorf("error creating entry index: %s", created.String())
	}
	i.log.Info("Created audit index %s", i.index)
	return nil
}

// PublishBalanceChanged implements events.Publisher. The entry id is the
// document id so a redelivered event overwrites rather than duplicates.
func (i *Indexer) PublishBalanceChanged(ctx context.Context, event events.BalanceChanged) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error marshaling entry %s: %w", event.EntryID, err)
	}

	res, err := i.client.Index(
		i.index,
		bytes.NewReader(body),
		i.client.Index.WithContext(ctx),
		i.client.Index.WithDocumentID(event.EntryID),
	)
	if err != nil {
		return fmt.Errorf("error indexing entry %s: %w", event.EntryID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing entry %s: %s", event.EntryID, res.String())
	}
	return nil
}

// SearchUserEntries returns the most recent indexed entries for a user
func (i *Indexer) SearchUserEntries(ctx context.Context, userID string, limit int) ([]events.BalanceChanged, error) {
	if limit <= 0 {
		limit = 20
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"user_id": userID},
		},
		"sort": []interface{}{
			map[string]interface{}{"occurred_at": map[string]string{"order": "desc"}},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.index),
		i.client.Search.WithBody(bytes.NewReader(body)),
		i.client.Search.WithSize(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("error searching entries: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("error searching entries: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source events.BalanceChanged `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("error parsing search response: %w", err)
	}

	out := make([]events.BalanceChanged, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		out = append(out, hit.Source)
	}
	return out, nil
}
