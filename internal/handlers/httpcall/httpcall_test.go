package httpcall

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronagent/internal/platform/httpclient"
)

func newHandler(t *testing.T, params string) *Handler {
	t.Helper()
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	h, err := Factory(httpclient.New())(raw)
	require.NoError(t, err)
	return h.(*Handler)
}

func TestInvoke(t *testing.T) {
	var gotMethod, gotBody, gotAuth, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		switch r.URL.Path {
		case "/created":
			w.WriteHeader(http.StatusCreated)
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		}
	}))
	defer srv.Close()

	h := newHandler(t, `{"timeout":5,"headers":{"Authorization":"Bearer x"}}`)
	ctx := context.Background()

	v, err := h.Invoke(ctx, json.RawMessage(`{"url":"`+srv.URL+`/ok"}`))
	require.NoError(t, err)
	assert.Equal(t, true, v)
	assert.Equal(t, http.MethodGet, gotMethod)
	assert.Equal(t, "Bearer x", gotAuth)

	v, err = h.Invoke(ctx, json.RawMessage(`{"url":"`+srv.URL+`/created","method":"post","body":{"a":1},"expect_status":201}`))
	require.NoError(t, err)
	assert.Equal(t, true, v)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.JSONEq(t, `{"a":1}`, gotBody)
	assert.Equal(t, "application/json", gotType)

	_, err = h.Invoke(ctx, json.RawMessage(`{"url":"`+srv.URL+`/ok","expect_status":204}`))
	assert.ErrorContains(t, err, "status 200")

	_, err = h.Invoke(ctx, json.RawMessage(`{"url":"`+srv.URL+`/broken"}`))
	assert.ErrorContains(t, err, "upstream down")
}

func TestInvoke_BadArguments(t *testing.T) {
	h := newHandler(t, "")
	_, err := h.Invoke(context.Background(), nil)
	assert.Error(t, err)
	_, err = h.Invoke(context.Background(), json.RawMessage(`{"method":"GET"}`))
	assert.ErrorContains(t, err, "url is required")
	_, err = h.Invoke(context.Background(), json.RawMessage(`[1]`))
	assert.Error(t, err)
}

func TestFactory_BadParams(t *testing.T) {
	_, err := Factory(httpclient.New())(json.RawMessage(`{"timeout":-1}`))
	assert.Error(t, err)
	_, err = Factory(httpclient.New())(json.RawMessage(`"x"`))
	assert.Error(t, err)
}

func TestBodyBytes(t *testing.T) {
	assert.Equal(t, "plain text", string(bodyBytes(json.RawMessage(`"plain text"`))))
	assert.Equal(t, `{"a":1}`, string(bodyBytes(json.RawMessage(`{"a":1}`))))
}
