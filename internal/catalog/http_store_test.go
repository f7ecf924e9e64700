package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dunamismax/imageq/internal/domain"
)

type fakeCatalogServer struct {
	mu      sync.Mutex
	records map[string]domain.CatalogRecord
	methods []string
}

func (f *fakeCatalogServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods = append(f.methods, r.Method)

	if r.Header.Get("Authorization") != "Bearer secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.URL.Query().Get("format") != "json" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		var query struct {
			Filter struct {
				Bag string `json:"bag"`
			} `json:"filter"`
		}
		if err := json.Unmarshal([]byte(r.URL.Query().Get("query")), &query); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		results := []domain.CatalogRecord{}
		if rec, ok := f.records[query.Filter.Bag]; ok {
			results = append(results, rec)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"count": len(results), "results": results})
	case http.MethodPost:
		if r.URL.Path != "/catalog/data/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var rec domain.CatalogRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rec.ID = "rec-" + rec.Bag
		f.records[rec.Bag] = rec
		w.WriteHeader(http.StatusCreated)
	case http.MethodPut:
		var rec domain.CatalogRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Path != "/catalog/data/"+rec.ID+"/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.records[rec.Bag] = rec
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeCatalog(t *testing.T) (*fakeCatalogServer, *HTTPStore) {
	t.Helper()
	fake := &fakeCatalogServer{records: make(map[string]domain.CatalogRecord)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewHTTPStore(HTTPConfig{BaseURL: srv.URL + "/catalog/data", Token: "secret"})
	if err != nil {
		t.Fatalf("new http store: %v", err)
	}
	return fake, store
}

func TestHTTPStoreCreateThenUpdateThroughPublisher(t *testing.T) {
	ctx := context.Background()
	fake, store := newFakeCatalog(t)
	p := NewPublisher(store, PolicyMerge)

	first := map[string][]domain.ManifestEntry{"001": {entry("001", "d/a/001.jpg")}}
	if err := p.Upsert(ctx, "Smith_1800", first, domain.Origin{Department: "Library"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := map[string][]domain.ManifestEntry{"002": {entry("002", "d/a/002.jpg")}}
	if err := p.Upsert(ctx, "Smith_1800", second, domain.Origin{}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if got := strings.Join(fake.methods, ","); got != "GET,POST,GET,PUT" {
		t.Fatalf("unexpected request sequence %s", got)
	}
	rec := fake.records["Smith_1800"]
	if rec.ID != "rec-Smith_1800" {
		t.Fatalf("unexpected id %q", rec.ID)
	}
	if len(rec.Derivatives) != 2 {
		t.Fatalf("expected merged derivatives, got %+v", rec.Derivatives)
	}
	if rec.Department != "Library" {
		t.Fatalf("unexpected department %q", rec.Department)
	}
}

func TestHTTPStoreFindByBagMissing(t *testing.T) {
	_, store := newFakeCatalog(t)
	_, ok, err := store.FindByBag(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if ok {
		t.Fatal("expected no record")
	}
}

func TestHTTPStoreFindByBagWithoutCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"_id":"1","bag":"Smith_1816","derivatives":{}}]}`))
	}))
	defer srv.Close()

	store, err := NewHTTPStore(HTTPConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new http store: %v", err)
	}
	rec, ok, err := store.FindByBag(context.Background(), "Smith_1816")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !ok || rec.ID != "1" || rec.Bag != "Smith_1816" {
		t.Fatalf("expected existing record, got ok=%t rec=%+v", ok, rec)
	}
}

func TestHTTPStoreReportsStatusErrors(t *testing.T) {
	fake := &fakeCatalogServer{records: make(map[string]domain.CatalogRecord)}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store, err := NewHTTPStore(HTTPConfig{BaseURL: srv.URL + "/catalog/data/", Token: "wrong"})
	if err != nil {
		t.Fatalf("new http store: %v", err)
	}
	if _, _, err := store.FindByBag(context.Background(), "bag"); err == nil || !strings.Contains(err.Error(), "status=401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

func TestHTTPStoreUpdateRequiresID(t *testing.T) {
	_, store := newFakeCatalog(t)
	if err := store.Update(context.Background(), domain.CatalogRecord{Bag: "bag"}); err == nil {
		t.Fatal("expected error for record without id")
	}
}

func TestNewHTTPStoreRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPStore(HTTPConfig{}); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
