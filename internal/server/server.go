// Package server implements the long-running command loop of the speech
// service: one JSON request per input line, exactly one JSON response line
// per request.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/protocol"
	"github.com/book-expert/speech-service/internal/speech"
)

// Line scanning limits. A line is a full message, so the limit bounds the
// largest accepted request.
const (
	initialScanBufferSize = 64 * 1024
	maxLineBytes          = 4 * 1024 * 1024
)

// Error message formats.
const (
	errFmtUnknownCmd = "Unknown cmd: %s"
)

// Server dispatches wire requests to the speech service. One request is
// fully processed, including any blocking download or model load, before
// the next input line is read; responses are emitted strictly in request
// order.
type Server struct {
	svc *speech.Service
	log *logger.Logger
}

// New creates a command server around the given service.
func New(svc *speech.Service, log *logger.Logger) *Server {
	return &Server{
		svc: svc,
		log: log,
	}
}

// Serve runs the read-eval-respond loop until end-of-input. Blank lines are
// silently skipped. A malformed or failing request is converted into a
// failure response at per-line granularity; nothing a single request does
// terminates the loop.
func (s *Server) Serve(ctx context.Context, reader io.Reader, writer io.Writer) error {
	// Warm both model families up front so the first request is fast. A
	// failure here must not prevent the server from starting; it
	// resurfaces on the first request that needs the missing model.
	_, warmupErr := s.svc.Warmup(ctx)
	if warmupErr != nil {
		s.log.Warn("Startup warmup failed: %v", warmupErr)
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, initialScanBufferSize), maxLineBytes)

	out := bufio.NewWriter(writer)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		response := s.HandleLine(ctx, []byte(line))

		writeErr := writeResponse(out, response)
		if writeErr != nil {
			return writeErr
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return fmt.Errorf("failed to read request stream: %w", scanErr)
	}

	return nil
}

// HandleLine parses one non-blank input line and dispatches it. A parse
// failure yields a failure response with an absent id, since parsing never
// got far enough to recover one.
func (s *Server) HandleLine(ctx context.Context, line []byte) protocol.Response {
	var request protocol.Request

	err := json.Unmarshal(line, &request)
	if err != nil {
		return failureResponse(nil, err)
	}

	return s.Handle(ctx, request)
}

// Handle routes one parsed request by command name. Every failure, of any
// kind, is converted into a failure response carrying the request id.
func (s *Server) Handle(ctx context.Context, request protocol.Request) (response protocol.Response) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.log.Error("Panic while handling request: %v", recovered)
			response = failureResponse(request.ID, fmt.Errorf("internal error: %v", recovered))
		}
	}()

	cmd := strings.ToLower(strings.TrimSpace(request.Cmd))

	switch cmd {
	case protocol.CmdWarmup:
		return s.handleWarmup(ctx, request)
	case protocol.CmdSTT:
		return s.handleSTT(ctx, request)
	case protocol.CmdTTS:
		return s.handleTTS(ctx, request)
	default:
		return protocol.Response{
			ID:    request.ID,
			OK:    false,
			Error: fmt.Sprintf(errFmtUnknownCmd, cmd),
		}
	}
}

func (s *Server) handleWarmup(ctx context.Context, request protocol.Request) protocol.Response {
	result, err := s.svc.Warmup(ctx)
	if err != nil {
		return failureResponse(request.ID, err)
	}

	return protocol.Response{ID: request.ID, OK: true, Result: result}
}

func (s *Server) handleSTT(ctx context.Context, request protocol.Request) protocol.Response {
	text, err := s.svc.Transcribe(ctx, request.AudioPath)
	if err != nil {
		return failureResponse(request.ID, err)
	}

	return protocol.Response{ID: request.ID, OK: true, Text: text}
}

func (s *Server) handleTTS(ctx context.Context, request protocol.Request) protocol.Response {
	outputPath, err := s.svc.Synthesize(ctx, speech.SynthesisRequest{
		Text:       request.Text,
		OutputPath: request.OutputPath,
		Voice:      request.Voice,
		Style:      request.Style,
		SpeakerID:  request.SpeakerID.Ptr(),
	})
	if err != nil {
		return failureResponse(request.ID, err)
	}

	return protocol.Response{ID: request.ID, OK: true, OutputPath: outputPath}
}

func failureResponse(id *string, err error) protocol.Response {
	return protocol.Response{
		ID:    id,
		OK:    false,
		Error: err.Error(),
	}
}

// writeResponse emits one response line and flushes it so callers see the
// reply as soon as the request finishes.
func writeResponse(out *bufio.Writer, response protocol.Response) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	_, err = out.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	err = out.WriteByte('\n')
	if err != nil {
		return fmt.Errorf("failed to write response terminator: %w", err)
	}

	err = out.Flush()
	if err != nil {
		return fmt.Errorf("failed to flush response: %w", err)
	}

	return nil
}
