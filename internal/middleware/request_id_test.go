package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"fintelligence/internal/logger"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"request_id": GetRequestID(c),
			"ctx_id":     logger.RequestID(c.Request.Context()),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	responseID := w.Header().Get(HeaderRequestID)
	if responseID == "" {
		t.Fatal("expected generated X-Request-ID header")
	}
	if len(responseID) != 36 {
		t.Errorf("expected uuid request id, got %q", responseID)
	}
	want := `{"ctx_id":"` + responseID + `","request_id":"` + responseID + `"}`
	if w.Body.String() != want {
		t.Errorf("request id not propagated: %s", w.Body.String())
	}
}

func TestRequestIDReusesIncomingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderRequestID, "client-id-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get(HeaderRequestID); got != "client-id-42" {
		t.Errorf("expected incoming id to be echoed, got %q", got)
	}
	if w.Body.String() != "client-id-42" {
		t.Errorf("unexpected stored id %q", w.Body.String())
	}
}
