package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForExports wraps a compression middleware handler to skip
// compression for export downloads that are already gzip streams.
func SkipCompressionForExports(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, ".xml.gz") {
				next.ServeHTTP(w, r)
				return
			}

			compressedHandler.ServeHTTP(w, r)
		})
	}
}
