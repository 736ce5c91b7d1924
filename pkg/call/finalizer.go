package call

import (
	"context"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/session"
)

// Finalizer receives a completed call for persistence. The engine hands off
// the full transcript exactly once per call, before the session is removed.
type Finalizer interface {
	FinalizeCall(ctx context.Context, callSID, status string, durationSeconds float64, transcript []session.Message) error
}

// Call completion statuses passed to the Finalizer.
const (
	StatusCompleted    = "completed"
	StatusDisconnected = "disconnected"
	StatusFailed       = "failed"
)

// LogFinalizer is the default Finalizer when no persistence backend is
// configured. It writes the call summary to the log and drops the transcript.
type LogFinalizer struct {
	Logger *logrus.Logger
}

func (f *LogFinalizer) FinalizeCall(_ context.Context, callSID, status string, durationSeconds float64, transcript []session.Message) error {
	f.Logger.WithFields(logrus.Fields{
		"call_sid":         callSID,
		"status":           status,
		"duration_seconds": durationSeconds,
		"messages":         len(transcript),
	}).Info("Call finalized")
	return nil
}
