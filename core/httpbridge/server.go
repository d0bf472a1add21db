package httpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/collidor/core/command"
	"github.com/dmitrymomot/collidor/core/logger"
	"github.com/dmitrymomot/collidor/pkg/codec"
)

// MetaRemoteAddr is the command.Meta key holding the HTTP client address.
const MetaRemoteAddr = "remote_addr"

type inboundRequest struct {
	Name    string           `json:"name"`
	Payload codec.RawMessage `json:"payload,omitempty"`
}

// Server executes commands posted by Client on a dispatcher.
//
// Responses:
//
//	200  JSON-encoded result
//	400  malformed body or payload rejected by the handler
//	404  no handler for the command
//	405  method other than POST
//	413  body over the size limit
//	415  non-JSON content type
//	500  handler error, as {"error": "..."}
type Server struct {
	d       *command.AsyncDispatcher
	maxBody int64
	logger  *slog.Logger
}

// NewServer creates a handler executing requests on d.
func NewServer(d *command.AsyncDispatcher, opts ...ServerOption) *Server {
	s := &Server{
		d:       d,
		maxBody: DefaultMaxBodySize,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: http.StatusText(http.StatusMethodNotAllowed)})
		return
	}

	cmd, err := DecodeRequest(r, s.maxBody)
	if err != nil {
		writeJSON(w, decodeStatus(err), errorBody{Error: err.Error()})
		return
	}

	ctx := command.WithMeta(r.Context(), command.Meta{MetaRemoteAddr: r.RemoteAddr})
	v, err := s.d.Execute(ctx, cmd).Await(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			// The client is gone; nobody reads the answer.
			return
		}
		status := executeStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.ErrorContext(ctx, "command failed", logger.Command(cmd.Name), logger.Error(err))
		}
		writeJSON(w, status, errorBody{Error: err.Error()})
		return
	}

	if err := writeJSON(w, http.StatusOK, v); err != nil {
		s.logger.ErrorContext(ctx, "failed to write command result", logger.Command(cmd.Name), logger.Error(err))
	}
}

// DecodeRequest reads a command posted by Client. A non-positive maxBody
// selects DefaultMaxBodySize.
func DecodeRequest(r *http.Request, maxBody int64) (command.Command, error) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}

	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		return command.Command{}, ErrUnsupportedMediaType
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return command.Command{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if int64(len(data)) > maxBody {
		return command.Command{}, ErrBodyTooLarge
	}

	var req inboundRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return command.Command{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if req.Name == "" {
		return command.Command{}, fmt.Errorf("%w: missing name", ErrBadRequest)
	}

	cmd := command.Command{ID: uuid.NewString(), Name: req.Name}
	if !req.Payload.IsNull() {
		cmd.Payload = codec.NewValue(req.Payload, codec.JSON)
	}
	return cmd, nil
}

func decodeStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

func executeStatus(err error) int {
	switch {
	case errors.Is(err, command.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, command.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, command.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
