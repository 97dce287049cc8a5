package apisrv

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/btcoracle/ernest/pkg/attester"
	"github.com/btcoracle/ernest/pkg/cryptokeys"
	"github.com/btcoracle/ernest/pkg/noncealloc"
	"github.com/btcoracle/ernest/pkg/statssource"
	"github.com/btcoracle/ernest/pkg/store"
)

func testKeyMaterial(t *testing.T) *cryptokeys.KeyMaterial {
	t.Helper()
	km, err := cryptokeys.NewKeyMaterial(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)
	return km
}

func TestHandleInfoReturnsPubkeyAndName(t *testing.T) {
	keys := testKeyMaterial(t)
	s := New(zap.NewNop(), keys, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/info", nil)
	rec := httptest.NewRecorder()
	s.handleInfo(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got infoResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, keys.PublicKeyHex(), got.PubKey)
	require.Equal(t, oracleName, got.Name)
}

func TestHandleHealthzReturnsOK(t *testing.T) {
	s := New(zap.NewNop(), testKeyMaterial(t), nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleAvailableEventsListsFour(t *testing.T) {
	s := New(zap.NewNop(), testKeyMaterial(t), nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/events/available", nil)
	rec := httptest.NewRecorder()
	s.handleAvailableEvents(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 4)
}

func TestRouterServesBothAPIAndAmbientRoutes(t *testing.T) {
	s := New(zap.NewNop(), testKeyMaterial(t), nil, nil, nil, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

// openIntegrationServer skips the test unless DATABASE_URL is set, the
// same convention pkg/store and pkg/attester's integration tests use.
func openIntegrationServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping apisrv integration test")
	}
	st, err := store.Open(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	keys := testKeyMaterial(t)
	seed, err := st.AllocateCurrentMaxIndex(context.Background())
	require.NoError(t, err)
	allocator := noncealloc.NewAllocator(seed)
	stats := statssource.NewClient()
	att := attester.New(keys, st)
	return New(zap.NewNop(), keys, st, allocator, att, stats), st
}

func TestCreateSingleEventThenAnnouncementRoundTrips(t *testing.T) {
	s, _ := openIntegrationServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	body, _ := json.Marshal(createRequest{Kind: "single", EventType: "hashrate", Maturity: 4102444800})
	resp, err := http.Post(srv.URL+"/api/create", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created announcementView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.EventID)
	require.Equal(t, int32(20), created.NbDigits)
	require.Len(t, created.Nonces, 20)

	resp2, err := http.Get(srv.URL + "/api/announcement?event_id=" + created.EventID)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var fetched announcementView
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&fetched))
	require.Equal(t, created.EventID, fetched.EventID)
	require.Equal(t, created.AnnouncementSignature, fetched.AnnouncementSignature)
}
