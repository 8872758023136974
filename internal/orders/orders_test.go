package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBook(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBook()
	b.Put(Order{ID: "1001", Total: decimal.NewFromInt(100), Status: StatusPending})

	require.NoError(t, b.AddNote(ctx, "1001", "first"))
	require.NoError(t, b.SetStatus(ctx, "1001", StatusOnHold, "held"))
	require.NoError(t, b.SetStatus(ctx, "1001", StatusCompleted, ""))

	o, err := b.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, o.Status)
	assert.Equal(t, []string{"first", "held"}, o.Notes)

	o.Notes[0] = "mutated"
	again, _ := b.Get(ctx, "1001")
	assert.Equal(t, "first", again.Notes[0])

	b.Delete("1001")
	_, err = b.Get(ctx, "1001")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.ErrorIs(t, b.AddNote(ctx, "1001", "x"), ErrOrderNotFound)
	assert.ErrorIs(t, b.SetStatus(ctx, "1001", StatusFailed, ""), ErrOrderNotFound)
}

// storefront fakes the order API on top of a MemoryBook
func storefront(t *testing.T, book *MemoryBook) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		o, err := book.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(o)
	}).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req statusUpdate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if err := book.SetStatus(r.Context(), mux.Vars(r)["id"], req.Status, req.Note); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
		}
	}).Methods(http.MethodPut)
	r.HandleFunc("/orders/{id}/notes", func(w http.ResponseWriter, r *http.Request) {
		var req noteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if err := book.AddNote(r.Context(), mux.Vars(r)["id"], req.Note); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
		}
	}).Methods(http.MethodPost)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPBook(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryBook()
	backing.Put(Order{ID: "1001", CustomerID: "c1", Total: decimal.RequireFromString("100.00"), Status: StatusProcessing})
	srv := storefront(t, backing)

	b := NewHTTPBook(srv.URL, "key", time.Second)

	o, err := b.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, "c1", o.CustomerID)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(100)))

	require.NoError(t, b.AddNote(ctx, "1001", "note one"))
	require.NoError(t, b.SetStatus(ctx, "1001", StatusOnHold, "note two"))

	stored, _ := backing.Get(ctx, "1001")
	assert.Equal(t, StatusOnHold, stored.Status)
	assert.Equal(t, []string{"note one", "note two"}, stored.Notes)

	_, err = b.Get(ctx, "404")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.ErrorIs(t, b.AddNote(ctx, "404", "x"), ErrOrderNotFound)
}
