package httpserver

import (
	"net/http"
	"time"
)

// RedirectToHTTPS answers every request with a permanent redirect to the
// same host and request URI over https.
func RedirectToHTTPS() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Host == "" {
			http.Error(w, "missing host", http.StatusBadRequest)
			return
		}
		http.Redirect(w, r, "https://"+r.Host+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
}

// NewRedirectServer serves RedirectToHTTPS on addr.
func NewRedirectServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           RedirectToHTTPS(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
