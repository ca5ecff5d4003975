package manifest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/retry"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

const manifestYAML = `
manifest_version: 1
db_schema_version: 1
networks:
  base:
    chain_id: 8453
    orderbooks:
      - address: "0xABCDEF0000000000000000000000000000000001"
        dump_url: "https://dumps.example/base.sql.gz"
        end_block: 1200
        end_block_hash: "0xfeed"
        end_block_time_ms: 1700000000000
`

func testClient(t *testing.T) *Client {
	return NewClient(Options{
		Retry:  retry.Exponential(3, time.Millisecond, 2*time.Millisecond),
		Logger: zaptest.NewLogger(t),
	})
}

func gzipped(t *testing.T, s string) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(manifestYAML))
	}))
	defer srv.Close()

	m, err := testClient(t).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	ob, ok := m.Find(8453, "0xabcdef0000000000000000000000000000000001")
	require.True(t, ok)
	assert.Equal(t, uint64(1200), ob.EndBlock)
	assert.Equal(t, "https://dumps.example/base.sql.gz", ob.DumpURL)
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := testClient(t).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindManifest))
	assert.Equal(t, int32(1), calls.Load())
}

func TestValidateRejectsOtherVersions(t *testing.T) {
	m, err := Parse([]byte("manifest_version: 2\ndb_schema_version: 1\n"))
	require.NoError(t, err)
	err = Validate(m)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindManifest))

	m, err = Parse([]byte("manifest_version: 1\ndb_schema_version: 99\n"))
	require.NoError(t, err)
	assert.Error(t, Validate(m))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("networks: [unterminated"))
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindManifest))
}

func TestDownloadDump(t *testing.T) {
	dump := "INSERT INTO sync_status VALUES (8453, '0xab', 1200, now());\n"
	payload := gzipped(t, dump)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	got, err := testClient(t).DownloadDump(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, dump, got)
}

func TestDecompressLimits(t *testing.T) {
	_, err := Decompress(gzipped(t, "0123456789"), 4)
	require.Error(t, err)

	_, err = Decompress([]byte("not gzip"), 1024)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindManifest))
}
