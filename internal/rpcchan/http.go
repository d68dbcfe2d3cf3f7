package rpcchan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// httpClient is shared across every httpChannel for connection reuse,
// the same pattern johnjansen-torua's cluster.PostJSON uses.
var httpClient = &http.Client{Timeout: 10 * time.Second}

// postJSON sends body as a JSON POST to url and decodes the response
// into out (skipped if out is nil).
func postJSON(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rpcchan: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("rpcchan: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpcchan: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("rpcchan: http %s: status %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// httpChannel is a Channel that speaks JSON-over-HTTP to one server,
// addressing verbs as POST /rpc/<verb>.
type httpChannel struct {
	baseURL string
}

// HTTP returns a Channel that talks to the server listening at baseURL
// (e.g. "http://127.0.0.1:11223").
func HTTP(baseURL string) Channel {
	return &httpChannel{baseURL: baseURL}
}

func (c *httpChannel) Get(ctx context.Context, req GetRequest) (GetResponse, error) {
	var resp GetResponse
	err := postJSON(ctx, c.baseURL+"/rpc/get", req, &resp)
	return resp, err
}

func (c *httpChannel) Prepare(ctx context.Context, req PrepareRequest) (PrepareResponse, error) {
	var resp PrepareResponse
	err := postJSON(ctx, c.baseURL+"/rpc/prepare", req, &resp)
	return resp, err
}

func (c *httpChannel) Commit(ctx context.Context, req CommitRequest) error {
	return postJSON(ctx, c.baseURL+"/rpc/commit", req, nil)
}

func (c *httpChannel) Abort(ctx context.Context, req AbortRequest) error {
	return postJSON(ctx, c.baseURL+"/rpc/abort", req, nil)
}

func (c *httpChannel) Split(ctx context.Context, req SplitRequest) (SplitResponse, error) {
	var resp SplitResponse
	err := postJSON(ctx, c.baseURL+"/rpc/split", req, &resp)
	return resp, err
}

func (c *httpChannel) AllocRowID(ctx context.Context, req AllocRowIDRequest) (AllocRowIDResponse, error) {
	var resp AllocRowIDResponse
	err := postJSON(ctx, c.baseURL+"/rpc/alloc-rowid", req, &resp)
	return resp, err
}

// NewHTTPMux builds the server-side http.Handler that dispatches each
// /rpc/<verb> route onto h, mirroring johnjansen-torua's cmd/node route
// registration style (one handler function per verb, JSON in/out).
func NewHTTPMux(h Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/rpc/get", jsonHandler(h.HandleGet))
	mux.HandleFunc("/rpc/prepare", jsonHandler(h.HandlePrepare))
	mux.HandleFunc("/rpc/commit", jsonVoidHandler(func(ctx context.Context, req CommitRequest) error {
		return h.HandleCommit(ctx, req)
	}))
	mux.HandleFunc("/rpc/abort", jsonVoidHandler(func(ctx context.Context, req AbortRequest) error {
		return h.HandleAbort(ctx, req)
	}))
	mux.HandleFunc("/rpc/split", jsonHandler(h.HandleSplit))
	mux.HandleFunc("/rpc/alloc-rowid", jsonHandler(h.HandleAllocRowID))

	return mux
}

// jsonHandler adapts a (ctx, Req) (Resp, error) function into an
// http.HandlerFunc that decodes the request body and encodes the
// response, the same shape as johnjansen-torua's per-route handlers.
func jsonHandler[Req any, Resp any](fn func(context.Context, Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := fn(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// jsonVoidHandler adapts a (ctx, Req) error function (no response body).
func jsonVoidHandler[Req any](fn func(context.Context, Req) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := fn(r.Context(), req); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
