//go:build !debug

package apihost

import "net/http"

// registerDevTools is a no-op in release builds: the dev-tool endpoints
// exist only behind the debug build tag.
func (s *Server) registerDevTools(mux *http.ServeMux) {}
