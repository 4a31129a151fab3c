package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghgrag/internal/domain"
)

func TestPointIDIsDeterministicUUID(t *testing.T) {
	assert.Equal(t, PointID("row-1"), PointID("row-1"))
	assert.NotEqual(t, PointID("row-1"), PointID("row-2"))
	assert.Len(t, PointID("row-1"), 36)
}

func TestLifecycleAgainstFakeServer(t *testing.T) {
	var (
		mu       sync.Mutex
		calls    []string
		upserted map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		switch {
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/ghg/points":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&upserted))
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"result":[
				{"score":0.5,"payload":{"doc_id":"row-1","position":1,"content":"b","metadata":{"row":"1"}}},
				{"score":0.5,"payload":{"doc_id":"row-0","position":0,"content":"a","metadata":{"row":"0"}}}
			]}`))
		default:
			_, _ = w.Write([]byte(`{"result":true}`))
		}
	}))
	defer srv.Close()
	snapshot := func() ([]string, map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), calls...), upserted
	}

	ctx := context.Background()
	s := NewStorage(Config{URL: srv.URL + "/", APIKey: "secret", Collection: "ghg"})
	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []domain.Document{{ID: "row-0", Content: "a"}}, [][]float64{{1, 0}}))

	_, body := snapshot()
	points := body["points"].([]any)
	require.Len(t, points, 1)
	assert.Equal(t, PointID("row-0"), points[0].(map[string]any)["id"])

	res, err := s.Search(ctx, []float64{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "row-0", res[0].Document.ID, "ties resolved by position")
	assert.Equal(t, map[string]string{"row": "0"}, res[0].Document.Metadata)

	got, _ := snapshot()
	assert.Equal(t, []string{
		"DELETE /collections/ghg",
		"PUT /collections/ghg",
		"PUT /collections/ghg/points",
		"POST /collections/ghg/points/search",
	}, got)
}

func TestServerErrorsPropagate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewStorage(Config{URL: srv.URL, Collection: "ghg"})
	assert.Error(t, s.Init(context.Background(), 2))
	assert.Error(t, s.Clear(context.Background()))
	_, err := s.Search(context.Background(), []float64{1}, 1)
	assert.Error(t, err)
}
