package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

type storedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

// captureWriter tees the response body so it can be cached after the
// handler runs.
type captureWriter struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Cache serves repeated GET requests from an in-memory cache keyed by
// request URI. Only 2xx responses are stored.
func Cache(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.RequestURI
		if hit, ok := store.Get(key); ok {
			resp := hit.(storedResponse)
			for k, v := range resp.headers {
				c.Writer.Header()[k] = v
			}
			c.Writer.WriteHeader(resp.status)
			c.Writer.Write(resp.body)
			c.Abort()
			return
		}

		cw := &captureWriter{ResponseWriter: c.Writer, buf: bytes.NewBuffer(nil)}
		c.Writer = cw
		c.Next()

		if cw.Status() >= 200 && cw.Status() < 300 {
			store.Set(key, storedResponse{
				status:  cw.Status(),
				headers: cw.Header().Clone(),
				body:    cw.buf.Bytes(),
			}, ttl)
		}
	}
}
