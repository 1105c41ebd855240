package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/fadedpez/pointledger/pkg/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// fakeES answers just enough of the Elasticsearch API for the indexer
type fakeES struct {
	mu        sync.Mutex
	indices   map[string]bool
	docs      map[string]json.RawMessage
	createReq int
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodHead && len(parts) == 1:
		if !f.indices[parts[0]] {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && len(parts) == 1:
		f.createReq++
		f.indices[parts[0]] = true
		io.WriteString(w, `{"acknowledged":true}`)
	case r.Method == http.MethodPut && len(parts) == 3 && parts[1] == "_doc":
		body, _ := io.ReadAll(r.Body)
		f.docs[parts[2]] = body
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"result":"created"}`)
	case len(parts) == 2 && parts[1] == "_search":
		hits := make([]map[string]json.RawMessage, 0, len(f.docs))
		for _, doc := range f.docs {
			hits = append(hits, map[string]json.RawMessage{"_source": doc})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"hits": map[string]interface{}{"hits": hits},
		})
	default:
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"unexpected request"}`)
	}
}

type IndexerTestSuite struct {
	suite.Suite
	es     *fakeES
	server *httptest.Server
}

func (s *IndexerTestSuite) SetupTest() {
	s.es = &fakeES{indices: map[string]bool{}, docs: map[string]json.RawMessage{}}
	s.server = httptest.NewServer(s.es)
}

func (s *IndexerTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *IndexerTestSuite) newIndexer() *Indexer {
	idx, err := NewIndexer(context.Background(), Config{URL: s.server.URL, IndexPrefix: "test"})
	s.Require().NoError(err)
	return idx
}

func (s *IndexerTestSuite) TestCreatesIndexOnce() {
	idx := s.newIndexer()
	s.Equal("test_ledger_entries", idx.Index())
	s.True(s.es.indices["test_ledger_entries"])

	s.newIndexer()
	s.Equal(1, s.es.createReq)
}

func (s *IndexerTestSuite) TestRedeliveredEventOverwrites() {
	idx := s.newIndexer()
	event := events.BalanceChanged{
		EntryID:     "e1",
		UserID:      "u1",
		Ledger:      entities.LedgerPoints,
		Kind:        entities.KindChatReward,
		ReferenceID: "u1:s1:0",
		Amount:      decimal.RequireFromString("1.2"),
		Balance:     decimal.RequireFromString("11.2"),
		OccurredAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	s.Require().NoError(idx.PublishBalanceChanged(context.Background(), event))
	s.Require().NoError(idx.PublishBalanceChanged(context.Background(), event))
	s.Len(s.es.docs, 1)

	found, err := idx.SearchUserEntries(context.Background(), "u1", 10)
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal("e1", found[0].EntryID)
	s.True(found[0].Amount.Equal(decimal.RequireFromString("1.2")))
}

func TestIndexerTestSuite(t *testing.T) {
	suite.Run(t, new(IndexerTestSuite))
}

func TestIndexerReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.Method == http.MethodHead {
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"boom"}`)
	}))
	defer server.Close()

	idx, err := NewIndexer(context.Background(), Config{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, "pointledger_ledger_entries", idx.Index())

	err = idx.PublishBalanceChanged(context.Background(), events.BalanceChanged{EntryID: "e1"})
	assert.Error(t, err)
}
