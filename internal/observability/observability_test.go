package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/tenant-auth/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ObservabilityConfig
		wantErr bool
	}{
		{"json", config.ObservabilityConfig{LogLevel: "info", LogFormat: "json"}, false},
		{"text", config.ObservabilityConfig{LogLevel: "debug", LogFormat: "text"}, false},
		{"defaults", config.ObservabilityConfig{}, false},
		{"invalid level", config.ObservabilityConfig{LogLevel: "loud"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "invalid log level")
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			_ = logger.Sync()
		})
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.TokenIssued("authorization_code")
	m.TokenIssued("authorization_code")
	m.TokenIssued("refresh_token")
	m.TokenVerified("ok")
	m.KeyRotated()
	m.AuthorizationDenied("missing_scope")
	m.CodeIssued()
	m.TenantRegistered()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokensIssued.WithLabelValues("authorization_code")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokensIssued.WithLabelValues("refresh_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keyRotations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authDenials.WithLabelValues("missing_scope")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.codesIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tenantsCreated))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.TokenIssued("authorization_code")
		m.TokenVerified("ok")
		m.KeyRotated()
		m.AuthorizationDenied("x")
		m.CodeIssued()
		m.TenantRegistered()
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.KeyRotated()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tenant_auth_key_rotations_total 1")
}
