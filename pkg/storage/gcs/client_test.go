package gcs

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/storage"
)

type roundTripFunc func(*http.Request) *http.Response

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func newTestClient(fn roundTripFunc) *Client {
	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "token", TokenType: "Bearer"})
	c := newClient(authorizedClient(tokens, fn), "artifacts", "https://gcs.test/")
	c.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond))
	}
	return c
}

func response(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     header,
	}
}

func TestPutUploadsMediaWithDetectedType(t *testing.T) {
	client := newTestClient(func(req *http.Request) *http.Response {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "/upload/storage/v1/b/artifacts/o", req.URL.Path)
		assert.Equal(t, "media", req.URL.Query().Get("uploadType"))
		assert.Equal(t, "print-jobs/job-1.pdf", req.URL.Query().Get("name"))
		assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
		assert.Equal(t, "application/pdf", req.Header.Get("Content-Type"))
		body, _ := io.ReadAll(req.Body)
		assert.Equal(t, "%PDF-1.7 body", string(body))
		return response(http.StatusOK, `{}`, nil)
	})

	require.NoError(t, client.Put(context.Background(), "print-jobs/job-1.pdf", []byte("%PDF-1.7 body"), ""))
}

func TestGetReturnsBodyAndNotFound(t *testing.T) {
	client := newTestClient(func(req *http.Request) *http.Response {
		if strings.Contains(req.URL.EscapedPath(), "missing") {
			return response(http.StatusNotFound, "", nil)
		}
		assert.Equal(t, "media", req.URL.Query().Get("alt"))
		return response(http.StatusOK, "%PDF-1.7 body", http.Header{"Content-Type": []string{"application/pdf"}})
	})

	data, ct, err := client.Get(context.Background(), "print-jobs/job-1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 body", string(data))
	assert.Equal(t, "application/pdf", ct)

	_, _, err = client.Get(context.Background(), "print-jobs/missing.pdf")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCopyUsesCopyToEndpoint(t *testing.T) {
	var gotPath string
	client := newTestClient(func(req *http.Request) *http.Response {
		gotPath = req.URL.EscapedPath()
		return response(http.StatusOK, `{}`, nil)
	})

	require.NoError(t, client.Copy(context.Background(), "designs/o1.pdf", "print-jobs/j1.pdf"))
	assert.Equal(t, "/storage/v1/b/artifacts/o/designs%2Fo1.pdf/copyTo/b/artifacts/o/print-jobs%2Fj1.pdf", gotPath)

	missing := newTestClient(func(*http.Request) *http.Response { return response(http.StatusNotFound, "", nil) })
	assert.ErrorIs(t, missing.Copy(context.Background(), "designs/none.pdf", "print-jobs/j1.pdf"), storage.ErrNotFound)
}

func TestExists(t *testing.T) {
	client := newTestClient(func(req *http.Request) *http.Response {
		switch {
		case strings.Contains(req.URL.EscapedPath(), "present"):
			return response(http.StatusOK, `{}`, nil)
		case strings.Contains(req.URL.EscapedPath(), "forbidden"):
			return response(http.StatusForbidden, "no access", nil)
		}
		return response(http.StatusNotFound, "", nil)
	})

	ok, err := client.Exists(context.Background(), "present.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Exists(context.Background(), "absent.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = client.Exists(context.Background(), "forbidden.pdf")
	assert.ErrorContains(t, err, "no access")
}

func TestTransientFailuresAreRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(func(*http.Request) *http.Response {
		if calls.Add(1) < 3 {
			return response(http.StatusServiceUnavailable, "busy", nil)
		}
		return response(http.StatusOK, `{}`, nil)
	})

	require.NoError(t, client.Put(context.Background(), "designs/o1.pdf", []byte("%PDF"), "application/pdf"))
	assert.EqualValues(t, 3, calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(func(*http.Request) *http.Response {
		calls.Add(1)
		return response(http.StatusBadRequest, "bad name", nil)
	})

	assert.ErrorContains(t, client.Put(context.Background(), "designs/o1.pdf", []byte("x"), ""), "bad name")
	assert.EqualValues(t, 1, calls.Load())
}

func TestRejectsUnsafeKeysAndNilClient(t *testing.T) {
	client := newTestClient(func(*http.Request) *http.Response {
		t.Fatal("no request expected")
		return nil
	})
	assert.Error(t, client.Put(context.Background(), "../escape.pdf", []byte("x"), ""))

	var nilClient *Client
	assert.ErrorIs(t, nilClient.Ping(context.Background()), errNotInitialized)
	assert.ErrorIs(t, nilClient.Put(context.Background(), "x.pdf", []byte("x"), ""), errNotInitialized)
}

func TestNewClientRequiresBucketAndValidCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCSConfig{}, config.GCPConfig{}, nil)
	assert.ErrorContains(t, err, "bucket name")

	_, err = NewClient(context.Background(), config.GCSConfig{BucketName: "artifacts"}, config.GCPConfig{CredentialsJSON: "{not json"}, nil)
	assert.ErrorContains(t, err, "gcs credentials")
}
