package graphdrive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disconnec/FeiSync/internal/ferr"
)

type fakeTokenSource struct {
	token string
	err   error
}

func (f fakeTokenSource) Token() (string, error) { return f.token, f.err }

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), fakeTokenSource{token: "tok"}, nil)

	return c, srv
}

func TestListFolder_DecodesEntries(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"entries": []map[string]any{
				{"token": "a", "name": "doc.txt", "type": "file", "size": 10, "mtime": "2026-01-01T00:00:00Z"},
			},
		})
	})

	entries, err := c.ListFolder(context.Background(), "root")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.txt", entries[0].Name)
}

func TestListRoot_DelegatesToListFolderAtRootToken(t *testing.T) {
	t.Parallel()

	var gotPath string

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"entries": []map[string]any{}})
	})

	rootToken, entries, err := c.ListRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "root", rootToken)
	assert.Empty(t, entries)
	assert.Contains(t, gotPath, "/folders/root/children")
}

func TestMetadata_ParsesMtime(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"size": 42, "mtime": "2026-02-03T04:05:06Z", "checksum": "abc",
		})
	})

	md, err := c.Metadata(context.Background(), "tok1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), md.Size)
	assert.Equal(t, "abc", md.Checksum)
}

func TestUploadCycle_SendsExpectedRequests(t *testing.T) {
	t.Parallel()

	var blockSeen []byte

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/uploads":
			_ = json.NewEncoder(w).Encode(map[string]any{"upload_id": "u1", "block_size": 1024})
		case r.Method == http.MethodPut:
			blockSeen, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/uploads/u1/finish":
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "finished-token"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	session, err := c.UploadInit(context.Background(), "root", "f.txt", 5)
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UploadID)

	require.NoError(t, c.UploadBlock(context.Background(), session.UploadID, 0, []byte("hello")))
	assert.Equal(t, []byte("hello"), blockSeen)

	token, err := c.UploadFinish(context.Background(), session.UploadID)
	require.NoError(t, err)
	assert.Equal(t, "finished-token", token)
}

func TestUploadAbort_SendsDelete(t *testing.T) {
	t.Parallel()

	var gotMethod string

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.UploadAbort(context.Background(), "u1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
}

func TestDownloadRange_SetsRangeHeaderAndReturnsBody(t *testing.T) {
	t.Parallel()

	var gotRange string

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("partial"))
	})

	rc, err := c.DownloadRange(context.Background(), "tok1", 5, 10)
	require.NoError(t, err)
	defer rc.Close()

	assert.Equal(t, "bytes=5-14", gotRange)

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(body))
}

func TestDownloadRange_NotFoundMapsToSentinel(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.DownloadRange(context.Background(), "missing", 0, 10)
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.ErrNotFound))
}

func TestDownloadRange_UnsatisfiableRangeMapsToInvalidArgument(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	})

	_, err := c.DownloadRange(context.Background(), "tok1", 0, 10)
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.ErrInvalidArgument))
}

func TestCreateFolder_ReturnsToken(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "new-folder"})
	})

	token, err := c.CreateFolder(context.Background(), "root", "docs")
	require.NoError(t, err)
	assert.Equal(t, "new-folder", token)
}

func TestQuota_DecodesUsedAndTotal(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"used": 100, "total": 1000})
	})

	q, err := c.Quota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), q.Used)
	assert.Equal(t, int64(1000), q.Total)
}

func TestDo_NonRetryableStatusClassifiesImmediately(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("name taken"))
	})

	_, err := c.CreateFolder(context.Background(), "root", "docs")
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.ErrDuplicateName))
}

func TestDo_PermanentErrorStatusMapsToUpstreamPermanent(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.CreateFolder(context.Background(), "root", "docs")
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.ErrUpstreamPermanent))
}

func TestDo_TokenSourceErrorPropagates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be contacted when token retrieval fails")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), fakeTokenSource{err: errors.New("token refresh failed")}, nil)

	_, err := c.CreateFolder(context.Background(), "root", "docs")
	require.Error(t, err)
}

func TestDo_CanceledContextReturnsCancelledSentinel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), fakeTokenSource{token: "tok"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CreateFolder(ctx, "root", "docs")
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.ErrCancelled))
}

func TestClassify_MapsStatusCodesToSentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		code     int
		sentinel error
	}{
		{"too many requests", http.StatusTooManyRequests, ferr.ErrUpstreamRateLimited},
		{"request timeout", http.StatusRequestTimeout, ferr.ErrTimeout},
		{"gateway timeout", http.StatusGatewayTimeout, ferr.ErrTimeout},
		{"not found", http.StatusNotFound, ferr.ErrNotFound},
		{"conflict", http.StatusConflict, ferr.ErrDuplicateName},
		{"internal server error", http.StatusInternalServerError, ferr.ErrUpstreamTransient},
		{"forbidden", http.StatusForbidden, ferr.ErrUpstreamPermanent},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := classify(tt.code, "message")
			assert.True(t, ferr.Is(err, tt.sentinel))
		})
	}
}

func TestIsRetryable_ClassifiesTransientStatuses(t *testing.T) {
	t.Parallel()

	assert.True(t, isRetryable(http.StatusTooManyRequests))
	assert.True(t, isRetryable(http.StatusBadGateway))
	assert.False(t, isRetryable(http.StatusNotFound))
	assert.False(t, isRetryable(http.StatusForbidden))
}

func TestEndpointFor_SelectsPlatform(t *testing.T) {
	t.Parallel()

	assert.Contains(t, EndpointFor("cn").TokenURL, ".cn/")
	assert.NotContains(t, EndpointFor("intl").TokenURL, ".cn/")
}

func TestBaseURLFor_SelectsPlatform(t *testing.T) {
	t.Parallel()

	assert.Contains(t, BaseURLFor("cn"), ".cn/")
	assert.NotContains(t, BaseURLFor("intl"), ".cn/")
}
