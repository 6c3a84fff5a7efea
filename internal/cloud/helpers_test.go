package cloud

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/testutil"
)

const waitFor = 2 * time.Second

type testServer struct {
	server *Server
	store  *store.Store
	http   *httptest.Server
	url    string
}

func startServer(t *testing.T, path string) *testServer {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "cloud.db")
	}
	st, err := store.Open(path)
	require.NoError(t, err)

	srv, err := NewServer(context.Background(), st, ServerOptions{})
	require.NoError(t, err)

	hs := httptest.NewServer(srv)
	ts := &testServer{
		server: srv,
		store:  st,
		http:   hs,
		url:    "ws" + strings.TrimPrefix(hs.URL, "http"),
	}
	t.Cleanup(ts.stop)
	return ts
}

func (ts *testServer) stop() {
	ts.server.Close()
	ts.http.Close()
	ts.store.Close()
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	c, err := Dial(ctx, url, ClientOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// changeKeys flattens the keys of every recorded change.
func changeKeys(r *testutil.Recorder[kv.Change]) []string {
	var keys []string
	for _, ch := range r.All() {
		keys = append(keys, ch.Keys...)
	}
	return keys
}
