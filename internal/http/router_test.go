package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fjod/cartsync/internal/cache"
	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/events"
	"github.com/fjod/cartsync/internal/repository"
	"github.com/fjod/cartsync/internal/session"
	"github.com/fjod/cartsync/internal/storage"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type thumbSourceMock struct {
	mu     sync.Mutex
	thumbs map[string]domain.Thumbnail
	calls  int
}

func (m *thumbSourceMock) GetThumbnail(_ context.Context, productID string) (*domain.Thumbnail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	t, ok := m.thumbs[productID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *thumbSourceMock) GetThumbnails(_ context.Context, productIDs []string) ([]domain.Thumbnail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []domain.Thumbnail
	for _, id := range productIDs {
		if t, ok := m.thumbs[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

type fixture struct {
	handler http.Handler
	reg     *session.Registry
	carts   *repository.MemoryCartRepository
	bus     *events.Bus
}

func newFixture(t *testing.T) *fixture {
	carts := repository.NewMemoryCartRepository()
	bus := events.NewBus()
	reg := session.NewRegistry(session.Config{TouchDelay: time.Millisecond}, session.Deps{
		Carts:   carts,
		Storage: storage.NewMemory(),
		Bus:     bus,
	})
	t.Cleanup(bus.Close)
	t.Cleanup(reg.Close)

	src := &thumbSourceMock{thumbs: map[string]domain.Thumbnail{
		"p1": {ProductID: "p1", ThumbnailURL: "https://img/p1.png", Signature: "sig-1"},
	}}
	thumbs := cache.NewThumbnailCache(src, cache.Options{TTL: time.Minute}, nil)

	return &fixture{
		handler: NewRouter(RouterConfig{Sessions: reg, Thumbnails: thumbs, Bus: bus, RequestTimeout: 5 * time.Second}),
		reg:     reg,
		carts:   carts,
		bus:     bus,
	}
}

func (f *fixture) do(t *testing.T, method, path, sessionID, userID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func product(id string) domain.Product {
	return domain.Product{ID: id, Name: "Product " + id, Price: 5000, Stock: 10, MinimumPurchase: 1}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCart_RequiresSession(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/api/v1/cart", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_session", decode[ErrorResponse](t, rec).Code)
}

func TestCart_LocalFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/v1/cart/items", "s1", "", AddItemRequestDTO{Product: product("A"), Quantity: "abc"})
	require.Equal(t, http.StatusCreated, rec.Code)
	line := decode[domain.CartLine](t, rec)
	assert.Equal(t, 1, line.Quantity, "non-numeric input falls back to one")

	rec = f.do(t, "PUT", "/api/v1/cart/items/"+line.ID, "s1", "", UpdateQuantityRequestDTO{Quantity: "4"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decode[domain.CartLine](t, rec).Quantity)

	rec = f.do(t, "GET", "/api/v1/cart", "s1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decode[CartResponseDTO](t, rec)
	assert.False(t, cart.Synced)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, 20000.0, cart.Summary.Subtotal)
	assert.True(t, cart.Undo.Available)

	rec = f.do(t, "POST", "/api/v1/cart/undo", "s1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "PUT", "/api/v1/cart/items/missing", "s1", "", UpdateQuantityRequestDTO{Quantity: 2})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "POST", "/api/v1/cart/checkout", "s1", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_synced", decode[ErrorResponse](t, rec).Code)

	// other sessions do not see this cart
	rec = f.do(t, "GET", "/api/v1/cart", "s2", "", nil)
	assert.Empty(t, decode[CartResponseDTO](t, rec).Lines)
}

func TestCart_UserHeaderSyncs(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/v1/cart/items", "s1", "", AddItemRequestDTO{Product: product("A"), Quantity: 2})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, "GET", "/api/v1/cart", "s1", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decode[CartResponseDTO](t, rec)
	assert.True(t, cart.Synced)
	assert.Equal(t, "u1", cart.UserID)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, 2, cart.Lines[0].Quantity)

	remote, err := f.carts.GetActiveCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, remote.Lines, 1)

	rec = f.do(t, "GET", "/api/v1/cart", "s1", "u2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCart_BatchDeleteAndCoupons(t *testing.T) {
	f := newFixture(t)

	a := decode[domain.CartLine](t, f.do(t, "POST", "/api/v1/cart/items", "s1", "", AddItemRequestDTO{Product: product("A"), Quantity: 1}))
	b := decode[domain.CartLine](t, f.do(t, "POST", "/api/v1/cart/items", "s1", "", AddItemRequestDTO{Product: product("B"), Quantity: 1}))

	rec := f.do(t, "POST", "/api/v1/cart/coupons", "s1", "", CouponRequestDTO{Code: "NOPE"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, "PUT", "/api/v1/cart/shipping", "s1", "", ShippingRequestDTO{Option: "drone"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/api/v1/cart/items/batch-delete", "s1", "", BatchDeleteRequestDTO{LineIDs: []string{a.ID, b.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[map[string]int](t, rec)["removed"])
}

func TestThumbnails_ETag(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/api/v1/thumbnails/p1", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"sig-1"`, rec.Header().Get("ETag"))

	req := httptest.NewRequest("GET", "/api/v1/thumbnails/p1", nil)
	req.Header.Set("If-None-Match", `"sig-1"`)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = f.do(t, "GET", "/api/v1/thumbnails/unknown", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "GET", "/api/v1/thumbnails/stats", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode[cache.ThumbnailStats](t, rec).TotalRequests)
}

func TestProfile(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/api/v1/profile/billing", "s1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, "GET", "/api/v1/profile/billing", "s1", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, cache.ErrNoFetcher.Error(), resp["error"])

	rec = f.do(t, "GET", "/api/v1/profile/wallet", "s1", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "POST", "/api/v1/profile/shipping/invalidate", "s1", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestEvents_StreamsSessionNotifications(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	header := http.Header{}
	header.Set(SessionHeader, "s1")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.bus.Len() == 1 }, time.Second, 5*time.Millisecond)

	rec := f.do(t, "POST", "/api/v1/profile/billing/invalidate", "s1", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.CacheInvalidated, ev.Kind)
	assert.Equal(t, "billing", ev.Detail)
}
