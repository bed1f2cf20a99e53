// Package ginadapter runs an admission pipeline as gin middleware.
package ginadapter

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/admission/internal/pipeline"
)

// Middleware runs p before the remaining gin handlers. gin route
// parameters are made available to validation through
// pipeline.DefaultParams. A rejected request aborts the gin chain.
func Middleware(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := make(map[string]string, len(c.Params))
		for _, prm := range c.Params {
			params[prm.Key] = prm.Value
		}
		req := c.Request.WithContext(pipeline.WithParams(c.Request.Context(), params))

		admitted := false
		h := p.Handler(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			admitted = true
			c.Request = r
			c.Next()
		}))
		h.ServeHTTP(c.Writer, req)

		if !admitted {
			c.Abort()
		}
	}
}
