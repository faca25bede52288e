package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/getmockd/gqlproxy/pkg/cache"
	"github.com/getmockd/gqlproxy/pkg/graphql"
	"github.com/getmockd/gqlproxy/pkg/httputil"
	"github.com/getmockd/gqlproxy/pkg/proxy"
	"github.com/getmockd/gqlproxy/pkg/upstream"
	"github.com/go-chi/chi/v5"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Error codes placed in extensions.code.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "PERSISTED_QUERY_NOT_FOUND"
	CodeHashRequired       = "PERSISTED_QUERY_REQUIRED"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeUpstreamError      = "UPSTREAM_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
)

// handlePersistedPost serves {"id": ...} and Apollo persisted query bodies.
func (s *Server) handlePersistedPost(w http.ResponseWriter, r *http.Request) {
	var req graphql.PersistedRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		httputil.WriteGraphQLError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	s.execute(w, r, req.Hash(), req.Variables)
}

// handlePersistedGet serves ?id= and Apollo ?extensions= query strings.
func (s *Server) handlePersistedGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := graphql.PersistedRequest{ID: q.Get("id")}
	if ext := q.Get("extensions"); ext != "" {
		if err := json.Unmarshal([]byte(ext), &req.Extensions); err != nil {
			httputil.WriteGraphQLError(w, http.StatusBadRequest, CodeBadRequest, "invalid extensions: "+err.Error())
			return
		}
	}
	variables, err := parseVariables(q.Get("variables"))
	if err != nil {
		httputil.WriteGraphQLError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	s.execute(w, r, req.Hash(), variables)
}

// handleHash serves /graphql/{hash}; variables come from the JSON body or
// the variables query parameter.
func (s *Server) handleHash(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	var (
		variables map[string]any
		err       error
	)
	if r.Method == http.MethodPost {
		var req graphql.PersistedRequest
		err = s.decodeBody(w, r, &req)
		variables = req.Variables
	} else {
		variables, err = parseVariables(r.URL.Query().Get("variables"))
	}
	if err != nil {
		httputil.WriteGraphQLError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	s.execute(w, r, hash, variables)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, hash string, variables map[string]any) {
	if hash == "" {
		httputil.WriteGraphQLError(w, http.StatusBadRequest, CodeHashRequired, "request must reference a persisted operation by hash")
		return
	}

	// GET must not have side effects
	if r.Method == http.MethodGet {
		if def, ok := s.proxy.Operation(hash); ok && def.Type != graphql.OperationQuery {
			w.Header().Set("Allow", http.MethodPost)
			httputil.WriteGraphQLError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed,
				fmt.Sprintf("%s operations must be sent with POST", def.Type))
			return
		}
	}

	resp, err := s.proxy.Request(r.Context(), hash, variables, r.Header.Clone())
	if err != nil {
		s.writeError(w, r, hash, err)
		return
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	httputil.WriteRaw(w, status, resp.Header, resp.Body)
}

// writeError answers a failed call. Backend error replies are relayed as
// received; everything else becomes a GraphQL error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, hash string, err error) {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		httputil.WriteRaw(w, statusErr.StatusCode, statusErr.Header, statusErr.Body)
		return
	}

	status := proxy.StatusCode(err)
	code, message := CodeInternal, err.Error()
	switch status {
	case http.StatusNotFound:
		code, message = CodeNotFound, "PersistedQueryNotFound"
	case http.StatusBadRequest:
		code = CodeValidationFailed
		var ve *proxy.ValidationError
		if errors.As(err, &ve) {
			message = ve.Message
		}
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		code = CodeUpstreamError
	case http.StatusServiceUnavailable:
		code = CodeServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("persisted operation failed",
			"hash", hash,
			"status", status,
			"requestId", r.Header.Get(RequestIDHeader),
			"error", err)
	}
	httputil.WriteGraphQLError(w, status, code, message)
}

type operationsResponse struct {
	Operations []proxy.DefinitionInfo `json:"operations"`
	Cache      cache.Stats            `json:"cache"`
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	defs := s.proxy.Operations()
	resp := operationsResponse{
		Operations: make([]proxy.DefinitionInfo, len(defs)),
		Cache:      s.proxy.CacheStats(),
	}
	for i, def := range defs {
		resp.Operations[i] = def.Info()
	}
	httputil.WriteOK(w, resp)
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	def, ok := s.proxy.Operation(chi.URLParam(r, "hash"))
	if !ok {
		httputil.WriteNotFound(w, "not_found", "operation not found")
		return
	}
	httputil.WriteOK(w, def.Info())
}

type validateResponse struct {
	Valid  bool              `json:"valid"`
	Errors []*gqlerror.Error `json:"errors"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	errs, err := s.proxy.Validate(r.Context())
	if err != nil {
		httputil.WriteError(w, proxy.StatusCode(err), "schema_unavailable", err.Error())
		return
	}
	httputil.WriteOK(w, validateResponse{Valid: len(errs) == 0, Errors: errs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteOK(w, map[string]any{
		"status":     "ok",
		"operations": len(s.proxy.Operations()),
	})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodySize)
	err := json.NewDecoder(body).Decode(v)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	default:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
}

func parseVariables(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var variables map[string]any
	if err := json.Unmarshal([]byte(raw), &variables); err != nil {
		return nil, fmt.Errorf("invalid variables: %w", err)
	}
	return variables, nil
}
