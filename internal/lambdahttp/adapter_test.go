package lambdahttp

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(method, path, body string) events.APIGatewayV2HTTPRequest {
	ev := events.APIGatewayV2HTTPRequest{
		RawPath: path,
		Body:    body,
		Headers: map[string]string{
			"host":         "api.example.com",
			"content-type": "application/json",
		},
	}
	ev.RequestContext.HTTP.Method = method
	ev.RequestContext.HTTP.SourceIP = "198.51.100.4"
	ev.RequestContext.RequestID = "gw-req-1"
	return ev
}

func TestNewRequest_PlainBody(t *testing.T) {
	ev := newEvent(http.MethodPost, "/v1/orders", `{"orderItems":[]}`)
	ev.RawQueryString = "limit=10&cursor=abc"
	ev.Cookies = []string{"a=1", "b=2"}

	req, err := NewRequest(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/v1/orders", req.URL.Path)
	assert.Equal(t, "10", req.URL.Query().Get("limit"))
	assert.Equal(t, "api.example.com", req.Host)
	assert.Equal(t, "198.51.100.4", req.RemoteAddr)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "a=1; b=2", req.Header.Get("Cookie"))
	assert.Equal(t, "gw-req-1", req.Header.Get("X-Request-Id"))

	body, _ := io.ReadAll(req.Body)
	assert.Equal(t, `{"orderItems":[]}`, string(body))
}

func TestNewRequest_Base64BodyIsExact(t *testing.T) {
	raw := []byte("{\"id\":\"evt_1\",\n  \"amount\": 10700}\r\n")
	ev := newEvent(http.MethodPost, "/webhooks/stripe", base64.StdEncoding.EncodeToString(raw))
	ev.IsBase64Encoded = true

	req, err := NewRequest(context.Background(), ev)
	require.NoError(t, err)

	body, _ := io.ReadAll(req.Body)
	assert.Equal(t, raw, body)
	assert.Equal(t, int64(len(raw)), req.ContentLength)
}

func TestNewRequest_Errors(t *testing.T) {
	bad := newEvent(http.MethodPost, "/webhooks/stripe", "%%%not-base64")
	bad.IsBase64Encoded = true
	_, err := NewRequest(context.Background(), bad)
	assert.Error(t, err)

	noMethod := newEvent("", "/health", "")
	_, err = NewRequest(context.Background(), noMethod)
	assert.Error(t, err)
}

func TestAdapter_Handle_JSONResponse(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Add("Vary", "Origin")
		w.Header().Add("Vary", "Accept-Encoding")
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "x"})
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord_1"}`))
	})

	resp, err := New(h, nil).Handle(context.Background(), newEvent(http.MethodPost, "/v1/orders", "{}"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"id":"ord_1"}`, resp.Body)
	assert.False(t, resp.IsBase64Encoded)
	assert.Equal(t, "Origin,Accept-Encoding", resp.Headers["Vary"])
	assert.Equal(t, []string{"sid=x"}, resp.Cookies)
	_, hasCookieHeader := resp.Headers["Set-Cookie"]
	assert.False(t, hasCookieHeader)
}

func TestAdapter_Handle_EncodedResponseIsBase64(t *testing.T) {
	payload := []byte{0x1f, 0x8b, 0x08, 0x00}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(payload)
	})

	resp, err := New(h, nil).Handle(context.Background(), newEvent(http.MethodGet, "/v1/orders", ""))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.IsBase64Encoded)
	decoded, err := base64.StdEncoding.DecodeString(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestAdapter_Handle_NoWriteDefaultsTo200(t *testing.T) {
	h := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	resp, err := New(h, nil).Handle(context.Background(), newEvent(http.MethodGet, "/health", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Body)
}

func TestAdapter_Handle_ConversionError(t *testing.T) {
	h := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run")
	})
	_, err := New(h, nil).Handle(context.Background(), newEvent("", "/", ""))
	assert.Error(t, err)
}
