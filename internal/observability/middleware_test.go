package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/danmuck/shiftctl/internal/testutil/testlog"
)

func TestRequestLoggerTagsRun(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger("orders-db-cutover", logger))
	r.GET("/migration", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/migration", nil))

	out := buf.String()
	if !strings.Contains(out, `"run":"orders-db-cutover"`) {
		t.Fatalf("request log must carry the run id, got %q", out)
	}
	if !strings.Contains(out, `"path":"/migration"`) || !strings.Contains(out, `"status":200`) {
		t.Fatalf("request log missing route fields, got %q", out)
	}
}

func TestRequestLoggerLevelTracksStatus(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger("run.test", logger))
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	r.GET("/nope", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("5xx must log at error level, got %q", buf.String())
	}

	buf.Reset()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("4xx must log at warn level, got %q", buf.String())
	}
}
