package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eleven-am/relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTransportConfig() domain.TransportConfig {
	return domain.TransportConfig{
		Scheme:         "http",
		RequestTimeout: 2 * time.Second,
		MaxIdleConns:   4,
	}
}

// completeOrTimeout waits for the async round trip to deliver a terminal
// outcome.
func completeOrTimeout(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("operation never completed")
		return nil
	}
}

func TestClientRoundTrip(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotMethod, gotPath, gotBody = r.Method, r.URL.Path, string(body)
		gotHeaders = r.Header.Clone()

		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name":"remote"}`))
	}))
	defer srv.Close()

	client := NewClient(testTransportConfig(), nil)
	address := strings.TrimPrefix(srv.URL, "http://")

	done := make(chan error, 1)
	op := domain.NewPatch("/svc/doc").
		SetAddress(address).
		SetBody(map[string]string{"k": "v"}).
		SetConnectionTag(domain.ConnectionTagForwarding).
		SetExpirationIn(time.Minute).
		ToggleOption(domain.OptionForwarded, true).
		SetCompletion(func(o *domain.Operation, err error) {
			done <- err
		})

	client.SendRequest(op)
	require.NoError(t, completeOrTimeout(t, done))

	assert.Equal(t, "PATCH", gotMethod)
	assert.Equal(t, "/svc/doc", gotPath)
	assert.JSONEq(t, `{"k":"v"}`, gotBody)
	assert.Equal(t, "true", gotHeaders.Get(HeaderForwarded))
	assert.Empty(t, gotHeaders.Get(HeaderFromReplication))
	assert.Equal(t, domain.ConnectionTagForwarding, gotHeaders.Get(HeaderConnectionTag))
	assert.NotEmpty(t, gotHeaders.Get(HeaderExpirationMicros))

	assert.Equal(t, domain.StatusOK, op.StatusCode())
	assert.Equal(t, "yes", op.ResponseHeader("X-Upstream"))

	var rsp map[string]string
	require.NoError(t, op.DecodeBody(&rsp))
	assert.Equal(t, "remote", rsp["name"])
}

func TestClientRemoteFailureDecodesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no such document","statusCode":404}`))
	}))
	defer srv.Close()

	client := NewClient(testTransportConfig(), nil)

	done := make(chan error, 1)
	op := domain.NewGet("/svc/missing").
		SetAddress(strings.TrimPrefix(srv.URL, "http://")).
		SetCompletion(func(o *domain.Operation, err error) {
			done <- err
		})
	client.SendRequest(op)

	err := completeOrTimeout(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such document")
	assert.Equal(t, domain.StatusNotFound, op.StatusCode())

	// the failure body is preserved for the caller's retry inspection
	var rsp domain.ErrorResponse
	require.NoError(t, op.DecodeBody(&rsp))
	assert.Equal(t, domain.StatusNotFound, rsp.StatusCode)
}

func TestClientExpiredOperationTimesOut(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	client := NewClient(testTransportConfig(), nil)

	done := make(chan error, 1)
	op := domain.NewGet("/svc/slow").
		SetAddress(strings.TrimPrefix(srv.URL, "http://")).
		SetExpirationIn(50 * time.Millisecond).
		SetCompletion(func(o *domain.Operation, err error) {
			done <- err
		})
	client.SendRequest(op)

	err := completeOrTimeout(t, done)
	require.Error(t, err)
	assert.Equal(t, domain.StatusTimeout, op.StatusCode())
}

func TestClientConnectionRefusedFails(t *testing.T) {
	client := NewClient(testTransportConfig(), nil)

	done := make(chan error, 1)
	op := domain.NewGet("/svc/doc").
		SetAddress("127.0.0.1:1").
		SetCompletion(func(o *domain.Operation, err error) {
			done <- err
		})
	client.SendRequest(op)

	require.Error(t, completeOrTimeout(t, done))
}
