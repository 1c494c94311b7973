package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/terrane-dev/terrane/pkg/provider"
	"github.com/terrane-dev/terrane/pkg/telemetry"
)

// Server exposes a provider.Provider over a protocol channel. A single
// Server instance serves one connection; calls are dispatched on their
// own goroutines because the engine may drive distinct resources
// concurrently.
type Server struct {
	prov   provider.Provider
	logger *telemetry.Logger
}

// NewServer creates a server for the given provider implementation.
func NewServer(prov provider.Provider, logger *telemetry.Logger) *Server {
	return &Server{
		prov:   prov,
		logger: logger.NewComponentLogger("protocol.server"),
	}
}

// Serve announces readiness and answers calls until the peer closes
// the channel, sends EXIT, or the context is cancelled. The returned
// error is nil on orderly shutdown.
func (s *Server) Serve(ctx context.Context, rw io.ReadWriter) error {
	enc := NewEncoder(rw)
	dec := NewDecoder(rw)

	info, err := s.prov.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to load provider info: %w", err)
	}
	if err := enc.EncodeReady(&ReadyMessage{Protocol: ProtocolVersion, Info: info}); err != nil {
		return fmt.Errorf("failed to send READY: %w", err)
	}

	s.logger.WithField("provider", info.Name).Info("provider ready")

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("channel closed by peer")
				return nil
			}
			return fmt.Errorf("failed to read call: %w", err)
		}

		switch msg.Type {
		case MessageTypeCall:
			var call CallMessage
			if err := ParsePayload(msg.Data, &call); err != nil {
				s.sendError(enc, 0, CodeInvalidCall, err.Error())
				continue
			}
			if err := call.Validate(); err != nil {
				s.sendError(enc, call.ID, CodeInvalidCall, err.Error())
				continue
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				s.dispatch(ctx, enc, &call)
			}()

		case MessageTypeExit:
			s.logger.Debug("exit requested by peer")
			return nil

		default:
			s.sendError(enc, 0, CodeInvalidCall, fmt.Sprintf("unexpected message type %s", msg.Type))
		}
	}
}

// dispatch runs one call against the provider and writes its response.
func (s *Server) dispatch(ctx context.Context, enc *Encoder, call *CallMessage) {
	logger := s.logger.WithField("method", string(call.Method)).WithField("call_id", call.ID)
	logger.Debug("dispatching call")

	payload, err := s.handle(ctx, call)
	if err != nil {
		logger.WithError(err).Debug("call failed")
		if encErr := enc.EncodeError(newWireError(call.ID, err)); encErr != nil {
			logger.WithError(encErr).Warn("failed to write error response")
		}
		return
	}

	if encErr := enc.EncodeResult(&ResultMessage{CallID: call.ID, Payload: payload}); encErr != nil {
		logger.WithError(encErr).Warn("failed to write result")
	}
}

// handle decodes the call payload, invokes the provider operation and
// encodes the response payload.
func (s *Server) handle(ctx context.Context, call *CallMessage) (json.RawMessage, error) {
	switch call.Method {
	case MethodConfigure:
		var req provider.ConfigureRequest
		if err := ParsePayload(call.Payload, &req); err != nil {
			return nil, err
		}
		if err := s.prov.Configure(ctx, req); err != nil {
			return nil, err
		}
		return nil, nil

	case MethodCheck:
		var req provider.CheckRequest
		if err := ParsePayload(call.Payload, &req); err != nil {
			return nil, err
		}
		resp, err := s.prov.Check(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case MethodDiff:
		var req provider.DiffRequest
		if err := ParsePayload(call.Payload, &req); err != nil {
			return nil, err
		}
		resp, err := s.prov.Diff(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case MethodCreate:
		var req provider.CreateRequest
		if err := ParsePayload(call.Payload, &req); err != nil {
			return nil, err
		}
		resp, err := s.prov.Create(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case MethodRead:
		var req provider.ReadRequest
		if err := ParsePayload(call.Payload, &req); err != nil {
			return nil, err
		}
		resp, err := s.prov.Read(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case MethodUpdate:
		var req provider.UpdateRequest
		if err := ParsePayload(call.Payload, &req); err != nil {
			return nil, err
		}
		resp, err := s.prov.Update(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case MethodDelete:
		var req provider.DeleteRequest
		if err := ParsePayload(call.Payload, &req); err != nil {
			return nil, err
		}
		if err := s.prov.Delete(ctx, req); err != nil {
			return nil, err
		}
		return nil, nil

	case MethodInvoke:
		var req provider.InvokeRequest
		if err := ParsePayload(call.Payload, &req); err != nil {
			return nil, err
		}
		resp, err := s.prov.Invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case MethodInfo:
		info, err := s.prov.Info(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(info)

	default:
		return nil, fmt.Errorf("unsupported method %s", call.Method)
	}
}

func (s *Server) sendError(enc *Encoder, callID uint64, code, message string) {
	err := enc.EncodeError(&ErrorMessage{
		CallID:    callID,
		Code:      code,
		Class:     provider.ClassPermanent,
		Message:   message,
		Retryable: false,
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to write protocol error")
	}
}

// newWireError maps a provider error onto the wire, preserving the
// structured shapes the engine reconstructs: missing-configuration
// details, the not-configured condition, and retry classification.
func newWireError(callID uint64, err error) *ErrorMessage {
	var cfgErr *provider.ConfigureError
	if errors.As(err, &cfgErr) {
		details, marshalErr := json.Marshal(cfgErr.Missing)
		if marshalErr != nil {
			details = nil
		}
		return &ErrorMessage{
			CallID:    callID,
			Code:      CodeMissingConfiguration,
			Class:     provider.ClassPermanent,
			Message:   cfgErr.Error(),
			Retryable: false,
			Details:   details,
		}
	}

	if errors.Is(err, provider.ErrNotConfigured) {
		return &ErrorMessage{
			CallID:    callID,
			Code:      CodeNotConfigured,
			Class:     provider.ClassPermanent,
			Message:   err.Error(),
			Retryable: false,
		}
	}

	var perr *provider.Error
	if errors.As(err, &perr) {
		code := perr.Code
		if code == "" {
			code = CodeOperationFailed
		}
		message := perr.Message
		if perr.Err != nil {
			message = fmt.Sprintf("%s: %v", perr.Message, perr.Err)
		}
		return &ErrorMessage{
			CallID:    callID,
			Code:      code,
			Class:     perr.Class,
			Message:   message,
			Retryable: perr.Class.Retryable(),
		}
	}

	return &ErrorMessage{
		CallID:    callID,
		Code:      CodeInternal,
		Class:     provider.ClassPermanent,
		Message:   err.Error(),
		Retryable: false,
	}
}

// decodeWireError reconstructs the typed error a wire error message
// was built from.
func decodeWireError(em *ErrorMessage) error {
	switch em.Code {
	case CodeMissingConfiguration:
		var missing []provider.MissingConfig
		if len(em.Details) > 0 {
			if err := json.Unmarshal(em.Details, &missing); err != nil {
				return fmt.Errorf("%s (malformed details: %v)", em.Message, err)
			}
		}
		return &provider.ConfigureError{Missing: missing}

	case CodeNotConfigured:
		return fmt.Errorf("%s: %w", em.Message, provider.ErrNotConfigured)

	default:
		class := em.Class
		if class.Validate() != nil {
			class = provider.ClassPermanent
		}
		return &provider.Error{
			Class:   class,
			Code:    em.Code,
			Message: em.Message,
		}
	}
}
