// Package call implements the per-call protocol state machine over a
// persistent WebSocket. One Handler instance serves exactly one call from
// socket accept to teardown.
package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/agent"
	"voiceagent-server/pkg/media"
	"voiceagent-server/pkg/metrics"
	"voiceagent-server/pkg/pipeline"
	"voiceagent-server/pkg/session"
)

// errorPrompt is spoken best-effort before closing a call that failed to
// start after its providers were already resolved.
const errorPrompt = "I'm sorry, we're unable to process your call right now. Please try again later."

// Conn is the subset of *websocket.Conn the handler needs; tests substitute
// a scripted implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Config holds the per-call timing parameters.
type Config struct {
	// FrameDurationMs is the fixed duration of one inbound media frame.
	FrameDurationMs int

	// FlushThresholdMs is the buffered duration at which a flush triggers.
	FlushThresholdMs int
}

// DefaultConfig matches the telephony protocol's 20 ms frames and the
// two-second latency budget.
func DefaultConfig() Config {
	return Config{
		FrameDurationMs:  media.FrameDurationMs,
		FlushThresholdMs: 2000,
	}
}

// Handler owns one call's lifecycle: protocol event dispatch, audio
// buffering, flush scheduling and final persistence hand-off.
type Handler struct {
	logger       *logrus.Logger
	orchestrator *pipeline.Orchestrator
	store        *session.Store
	resolver     agent.Resolver
	finalizer    Finalizer
	cfg          Config

	conn       Conn
	callSID    string
	streamSID  string
	tenantID   string
	state      State
	startedAt  time.Time
	buffer     *media.Buffer
	flushCount int
	finalized  bool
}

// NewHandler builds a Handler for one incoming call socket. callSID may be
// empty; the start event's callSid (or a generated id) fills it in.
func NewHandler(logger *logrus.Logger, orchestrator *pipeline.Orchestrator, store *session.Store, resolver agent.Resolver, finalizer Finalizer, cfg Config, callSID string) *Handler {
	if cfg.FrameDurationMs <= 0 {
		cfg.FrameDurationMs = media.FrameDurationMs
	}
	if cfg.FlushThresholdMs <= 0 {
		cfg.FlushThresholdMs = 2000
	}
	return &Handler{
		logger:       logger,
		orchestrator: orchestrator,
		store:        store,
		resolver:     resolver,
		finalizer:    finalizer,
		cfg:          cfg,
		callSID:      callSID,
		state:        StateIdle,
	}
}

// State reports the handler's current lifecycle state.
func (h *Handler) State() State {
	return h.state
}

// Serve runs the call loop until the stop event or a transport failure.
// Pipeline failures never end the loop; they degrade individual flushes.
func (h *Handler) Serve(ctx context.Context, conn Conn) {
	h.conn = conn
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if h.state == StateStreaming || h.state == StateConnected {
				h.logger.WithError(err).WithField("call_sid", h.callSID).Warn("Call socket closed unexpectedly")
				h.teardown(ctx, StatusDisconnected)
			}
			return
		}

		var evt inboundEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			h.logger.WithError(err).WithField("call_sid", h.callSID).Warn("Ignoring malformed event")
			continue
		}

		switch evt.Event {
		case eventConnected:
			h.handleConnected()
		case eventStart:
			if err := h.handleStart(ctx, &evt); err != nil {
				h.logger.WithError(err).WithField("call_sid", h.callSID).Error("Failed to start call")
				h.speakErrorPrompt(ctx)
				h.teardown(ctx, StatusFailed)
				return
			}
		case eventMedia:
			h.handleMedia(ctx, &evt)
		case eventStop:
			h.handleStop(ctx)
			return
		case eventMark:
			h.handleMark(&evt)
		default:
			h.logger.WithFields(logrus.Fields{
				"call_sid": h.callSID,
				"event":    evt.Event,
			}).Warn("Ignoring unknown event")
		}
	}
}

func (h *Handler) handleConnected() {
	if h.state == StateIdle {
		h.state = StateConnected
	}
	h.logger.WithField("call_sid", h.callSID).Debug("Media stream connected")
}

func (h *Handler) handleStart(ctx context.Context, evt *inboundEvent) error {
	if h.state == StateStreaming {
		h.logger.WithField("call_sid", h.callSID).Warn("Ignoring duplicate start event")
		return nil
	}

	if evt.CallSID != "" {
		h.callSID = evt.CallSID
	}
	if h.callSID == "" {
		h.callSID = uuid.New().String()
	}
	h.streamSID = evt.StreamSID

	tenantID, err := h.resolver.ResolveTenant(ctx, h.callSID)
	if err != nil {
		return err
	}
	h.tenantID = tenantID

	if _, err := h.store.Create(h.callSID, tenantID); err != nil {
		return err
	}
	if err := h.orchestrator.InitCall(ctx, h.callSID, tenantID); err != nil {
		return err
	}

	frameBytes := h.cfg.FrameDurationMs * media.TelephonyRate / 1000
	h.buffer = media.NewBuffer(h.logger, frameBytes)
	h.startedAt = time.Now()
	h.state = StateStreaming

	metrics.CallsStarted.Inc()
	metrics.ActiveCalls.Inc()
	h.logger.WithFields(logrus.Fields{
		"call_sid":   h.callSID,
		"stream_sid": h.streamSID,
		"tenant_id":  tenantID,
	}).Info("Call started")

	h.sendGreeting(ctx)
	return nil
}

// sendGreeting speaks the tenant's greeting and records it as an agent turn.
// Failures are logged and the call proceeds silent.
func (h *Handler) sendGreeting(ctx context.Context) {
	greeting := h.orchestrator.GreetingFor(ctx, h.callSID, h.tenantID)
	if greeting == "" {
		return
	}

	audio, err := h.orchestrator.SynthesizeUtterance(ctx, greeting, h.callSID, h.tenantID)
	if err != nil {
		h.logger.WithError(err).WithField("call_sid", h.callSID).Warn("Failed to synthesize greeting")
		return
	}

	if err := h.sendMedia(audio); err != nil {
		h.logger.WithError(err).WithField("call_sid", h.callSID).Warn("Failed to send greeting audio")
		return
	}

	if err := h.store.Append(h.callSID, session.RoleAgent, greeting); err != nil {
		h.logger.WithError(err).WithField("call_sid", h.callSID).Error("Failed to record greeting")
	}
}

func (h *Handler) handleMedia(ctx context.Context, evt *inboundEvent) {
	if h.state != StateStreaming {
		h.logger.WithFields(logrus.Fields{
			"call_sid": h.callSID,
			"state":    h.state.String(),
		}).Debug("Dropping media event outside streaming state")
		return
	}
	if evt.Media == nil || evt.Media.Payload == "" {
		h.logger.WithField("call_sid", h.callSID).Debug("Ignoring empty media payload")
		return
	}

	payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
	if err != nil {
		h.logger.WithError(err).WithField("call_sid", h.callSID).Warn("Ignoring media event with invalid payload encoding")
		return
	}

	h.buffer.Append(payload, h.cfg.FrameDurationMs)

	if h.buffer.Ready(h.cfg.FlushThresholdMs) {
		h.flush(ctx, "threshold")
	}
}

// flush drains the buffer and runs one pipeline invocation. Degraded results
// with no audio send nothing; the call keeps streaming either way.
func (h *Handler) flush(ctx context.Context, trigger string) {
	bufferedMs := h.buffer.DurationMs()
	payload := h.buffer.Drain()
	if len(payload) == 0 {
		return
	}

	metrics.BufferFlushes.WithLabelValues(trigger).Inc()
	metrics.BufferedDurationMs.Observe(float64(bufferedMs))
	h.flushCount++

	result := h.orchestrator.Process(ctx, payload, h.callSID, h.tenantID)

	if len(result.ResponseAudio) == 0 {
		h.logger.WithFields(logrus.Fields{
			"call_sid": h.callSID,
			"flags":    result.Flags,
		}).Debug("Flush produced no audio")
		return
	}

	if err := h.sendMedia(result.ResponseAudio); err != nil {
		h.logger.WithError(err).WithField("call_sid", h.callSID).Warn("Failed to send response audio")
	}
}

func (h *Handler) handleStop(ctx context.Context) {
	h.logger.WithField("call_sid", h.callSID).Info("Call stopping")
	h.state = StateDraining

	if h.buffer != nil && h.buffer.Len() > 0 {
		h.flush(ctx, "stop")
	}

	h.finalize(ctx, StatusCompleted)
	h.state = StateClosed
}

func (h *Handler) handleMark(evt *inboundEvent) {
	metrics.MarkEvents.Inc()
	name := ""
	if evt.Mark != nil {
		name = evt.Mark.Name
	}
	h.logger.WithFields(logrus.Fields{
		"call_sid": h.callSID,
		"mark":     name,
	}).Debug("Playback mark acknowledged")
}

// teardown is the transport-failure exit: best-effort flush of whatever is
// buffered, then persistence.
func (h *Handler) teardown(ctx context.Context, status string) {
	h.state = StateDraining
	if h.buffer != nil && h.buffer.Len() > 0 {
		h.flush(ctx, "teardown")
	}
	h.finalize(ctx, status)
	h.state = StateClosed
}

// finalize hands the transcript off exactly once and releases all per-call
// state.
func (h *Handler) finalize(ctx context.Context, status string) {
	if h.finalized {
		return
	}
	h.finalized = true

	duration := 0.0
	if !h.startedAt.IsZero() {
		duration = time.Since(h.startedAt).Seconds()
	}

	var transcript []session.Message
	if sess, ok := h.store.Get(h.callSID); ok {
		transcript = sess.Messages()
	}

	if err := h.finalizer.FinalizeCall(ctx, h.callSID, status, duration, transcript); err != nil {
		h.logger.WithError(err).WithField("call_sid", h.callSID).Error("Failed to persist call")
	}

	h.store.Remove(h.callSID)
	h.orchestrator.ReleaseCall(h.callSID)

	if !h.startedAt.IsZero() {
		metrics.ActiveCalls.Dec()
	}
	metrics.CallsCompleted.WithLabelValues(status).Inc()
	metrics.CallDuration.Observe(duration)

	h.logger.WithFields(logrus.Fields{
		"call_sid":         h.callSID,
		"status":           status,
		"duration_seconds": duration,
		"messages":         len(transcript),
		"flushes":          h.flushCount,
	}).Info("Call cleanup complete")
}

// speakErrorPrompt tells the caller the call cannot proceed. Only possible
// once providers are resolved; otherwise it is skipped.
func (h *Handler) speakErrorPrompt(ctx context.Context) {
	if h.tenantID == "" {
		return
	}
	audio, err := h.orchestrator.SynthesizeUtterance(ctx, errorPrompt, h.callSID, h.tenantID)
	if err != nil {
		h.logger.WithError(err).WithField("call_sid", h.callSID).Debug("Could not synthesize error prompt")
		return
	}
	if err := h.sendMedia(audio); err != nil {
		h.logger.WithError(err).WithField("call_sid", h.callSID).Debug("Could not send error prompt")
	}
}

func (h *Handler) sendMedia(audio []byte) error {
	msg := outboundMedia{
		Event:     eventMedia,
		StreamSID: h.streamSID,
		Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(audio)},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.conn.WriteMessage(websocket.TextMessage, data)
}
