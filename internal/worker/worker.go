// Package worker serves the speech wire protocol over NATS: each message is
// one request JSON object, each reply one response JSON object.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/protocol"
)

// handleMessageTimeout bounds one request, including any model download the
// request triggers.
const handleMessageTimeout = 10 * time.Minute

const audioKeyExt = ".wav"

// Handler dispatches one parsed wire request. The command server satisfies
// this, so both transports share one dispatch path.
type Handler interface {
	Handle(ctx context.Context, request protocol.Request) protocol.Response
}

// NatsWorker listens for speech requests on a NATS subject and replies on
// the message's reply subject. Subscription callbacks are dispatched
// serially, preserving the service's single-threaded processing model.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	handler        Handler
	store          core.ObjectStore
	log            *logger.Logger
}

// NewNatsWorker creates a worker. store may be nil, in which case requests
// must reference local file paths.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	handler Handler,
	store core.ObjectStore,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		handler:        handler,
		store:          store,
		log:            log,
	}, nil
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var request protocol.Request

	response := protocol.Response{ID: nil, OK: false}

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		response.Error = err.Error()
	} else {
		response = w.dispatch(ctx, request)
	}

	data, marshalErr := json.Marshal(response)
	if marshalErr != nil {
		w.log.Error("Failed to marshal response: %v", marshalErr)

		return
	}

	respondErr := msg.Respond(data)
	if respondErr != nil {
		w.log.Error("Failed to publish reply: %v", respondErr)
	}
}

// dispatch bridges object-store payloads to the file-path contract of the
// shared handler: stt requests may arrive with an audio_key instead of a
// local path, and tts requests without an output_path get their audio
// uploaded and keyed.
func (w *NatsWorker) dispatch(ctx context.Context, request protocol.Request) protocol.Response {
	cmd := strings.ToLower(strings.TrimSpace(request.Cmd))

	if w.store != nil && cmd == protocol.CmdSTT && request.AudioPath == "" && request.AudioKey != "" {
		return w.transcribeFromStore(ctx, request)
	}

	if w.store != nil && cmd == protocol.CmdTTS && request.OutputPath == "" {
		return w.synthesizeToStore(ctx, request)
	}

	return w.handler.Handle(ctx, request)
}

func (w *NatsWorker) transcribeFromStore(ctx context.Context, request protocol.Request) protocol.Response {
	data, err := w.store.Download(ctx, request.AudioKey)
	if err != nil {
		return failureResponse(request.ID, err)
	}

	tempFile, err := os.CreateTemp("", "speech-stt-*"+audioKeyExt)
	if err != nil {
		return failureResponse(request.ID, fmt.Errorf("failed to create temp audio file: %w", err))
	}

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil {
			w.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()

	if writeErr != nil {
		return failureResponse(request.ID, fmt.Errorf("failed to write temp audio file: %w", writeErr))
	}

	if closeErr != nil {
		return failureResponse(request.ID, fmt.Errorf("failed to close temp audio file: %w", closeErr))
	}

	request.AudioKey = ""
	request.AudioPath = tempFile.Name()

	return w.handler.Handle(ctx, request)
}

func (w *NatsWorker) synthesizeToStore(ctx context.Context, request protocol.Request) protocol.Response {
	outputPath := filepath.Join(os.TempDir(), uuid.NewString()+audioKeyExt)
	request.OutputPath = outputPath

	defer func() {
		removeErr := os.Remove(outputPath)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			w.log.Warn("Failed to remove temp file '%s': %v", outputPath, removeErr)
		}
	}()

	response := w.handler.Handle(ctx, request)
	if !response.OK {
		return response
	}

	audioData, err := os.ReadFile(outputPath)
	if err != nil {
		return failureResponse(request.ID, fmt.Errorf("failed to read synthesized audio: %w", err))
	}

	audioKey := uuid.NewString() + audioKeyExt

	err = w.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		return failureResponse(request.ID, fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err))
	}

	response.OutputPath = ""
	response.AudioKey = audioKey

	return response
}

func failureResponse(id *string, err error) protocol.Response {
	return protocol.Response{
		ID:    id,
		OK:    false,
		Error: err.Error(),
	}
}
