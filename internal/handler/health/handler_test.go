package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newRouter(checks map[string]Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(checks, 0).RegisterRoutes(r.Group(""))
	return r
}

func TestReadiness(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	bad := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	w := httptest.NewRecorder()
	newRouter(map[string]Pinger{"database": ok, "storage": ok}).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	newRouter(map[string]Pinger{"database": bad, "storage": ok}).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"DOWN","reason":{"database":"connection refused"}}`, w.Body.String())
}

func TestLiveness(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
