package server

import "net/http"

// AdminMux returns the server's admin HTTP surface: Prometheus scraping
// and an operator-triggered dump, kept separate from the RPC mux
// (rpcchan.NewHTTPMux) since these aren't part of the wire protocol
// other servers or clients speak.
func (s *Server) AdminMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/admin/dump", s.handleDumpRequest)
	return mux
}

func (s *Server) handleDumpRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.Dump(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
