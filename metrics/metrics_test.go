package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_ObserveCall(t *testing.T) {
	c := New()

	c.ObserveCall("openai", "plan", time.Second, nil)
	c.ObserveCall("openai", "plan", time.Second, errors.New("boom"))
	c.ObserveCall("openai", "plan", time.Second, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.LLMRequests.WithLabelValues("openai", "plan", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.LLMRequests.WithLabelValues("openai", "plan", "error")))
}

func TestCollector_Sessions(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SessionsActive))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveStage("web-app", "plan", time.Second, nil)
		c.ObserveCall("x", "plan", time.Second, nil)
		c.SessionOpened()
		c.ObserveDeploy("vercel", nil)
	})
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.ObserveDeploy("vercel", nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `forge_deploy_total{outcome="ok",target="vercel"} 1`)
}
