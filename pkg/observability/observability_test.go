package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treasuryops/stablepay/pkg/contracts"
)

func disabledProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	return p
}

func TestDisabledProviderIsInert(t *testing.T) {
	ctx := context.Background()
	p := disabledProvider(t)

	// None of these may panic or export anything.
	p.RecordPaymentOutcome(ctx, contracts.OutcomeConfirmed, 1)
	p.RecordAttempt(ctx, contracts.OutcomeFailed, contracts.ReasonNetworkTimeout)

	opCtx, done := p.TrackOperation(ctx, "payment.submit")
	require.NotNil(t, opCtx)
	done(errors.New("boom"))

	require.NoError(t, p.Shutdown(ctx))
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	p := disabledProvider(t)

	handler := p.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/proposals/prop-1", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "stablepay", cfg.ServiceName)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRate)
}
