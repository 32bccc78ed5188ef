package types

import (
	"net/http"

	"github.com/valyala/fasthttp"
)

// FastResponseWriter adapts a fasthttp request context to
// http.ResponseWriter so net/http handlers (promhttp in particular)
// can serve through the fasthttp diagnostics listener.
type FastResponseWriter struct {
	ctx        *fasthttp.RequestCtx
	statusCode int
}

func NewFastResponseWriter(ctx *fasthttp.RequestCtx) *FastResponseWriter {
	return &FastResponseWriter{
		ctx:        ctx,
		statusCode: 200,
	}
}

func (frw *FastResponseWriter) Header() http.Header {
	header := make(http.Header)
	frw.ctx.Response.Header.VisitAll(func(key, value []byte) {
		header.Set(string(key), string(value))
	})
	return header
}

func (frw *FastResponseWriter) Write(data []byte) (int, error) {
	return frw.ctx.Write(data)
}

func (frw *FastResponseWriter) WriteHeader(statusCode int) {
	frw.statusCode = statusCode
	frw.ctx.SetStatusCode(statusCode)
}
