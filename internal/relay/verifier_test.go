package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinicdesk/internal/platform/metrics"
)

func quietLogger() zerolog.Logger { return zerolog.New(io.Discard) }

// fakeUpstream answers like the third-party verification endpoint. Tokens
// equal to "good" pass.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "shh", r.PostForm.Get("secret"))
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("response") {
		case "good":
			assert.Equal(t, "203.0.113.7", r.PostForm.Get("remoteip"))
			_, _ = io.WriteString(w, `{"success":true,"score":0.9,"hostname":"clinic.test"}`)
		case "boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = io.WriteString(w, `{"success":false,"error-codes":["invalid-input-response"]}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifier_Success(t *testing.T) {
	upstream := fakeUpstream(t)
	m := metrics.NewRelayMetrics(prometheus.NewRegistry())
	v := NewVerifier("shh", upstream.URL, time.Second, m, quietLogger())

	res, err := v.Verify(context.Background(), "good", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.Score)
	assert.InDelta(t, 0.9, *res.Score, 1e-9)
}

func TestVerifier_RejectedTokenIsNotAnError(t *testing.T) {
	upstream := fakeUpstream(t)
	v := NewVerifier("shh", upstream.URL, time.Second, nil, quietLogger())

	res, err := v.Verify(context.Background(), "forged", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Nil(t, res.Score)
}

func TestVerifier_UpstreamFailure(t *testing.T) {
	upstream := fakeUpstream(t)
	reg := prometheus.NewRegistry()
	v := NewVerifier("shh", upstream.URL, time.Second, metrics.NewRelayMetrics(reg), quietLogger())

	_, err := v.Verify(context.Background(), "boom", "")
	require.Error(t, err)

	n, err := testutil.GatherAndCount(reg, "clinicdesk_relay_verifications_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
