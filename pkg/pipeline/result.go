package pipeline

// Degradation flags attached to a Result. A flagged result is still a valid
// result; flags explain what the caller did not get.
const (
	// FlagNoContext marks a response generated without retrieved knowledge
	// after a retrieval failure.
	FlagNoContext = "no-context"

	// FlagSilentResponse marks an invocation that produced no spoken reply,
	// either because the caller's audio yielded no transcript or because
	// transcription failed outright.
	FlagSilentResponse = "silent-response"

	// Per-stage error flags, set after both primary and fallback providers
	// failed for that stage.
	FlagSTTError = "stt-error"
	FlagLLMError = "llm-error"
	FlagTTSError = "tts-error"
)

// Latency breakdown stage keys. Every Result carries exactly this stage set.
const (
	StageSTT = "stt"
	StageRAG = "rag"
	StageLLM = "llm"
	StageTTS = "tts"
)

// Result is the outcome of one pipeline invocation. Produced fresh per flush;
// never mutated afterwards.
type Result struct {
	// ResponseAudio is μ-law 8 kHz telephony audio ready to send back over
	// the media stream. Empty when the invocation degraded to silence.
	ResponseAudio []byte

	// Transcript is the caller's transcribed utterance.
	Transcript string

	// ResponseText is the agent's reply text.
	ResponseText string

	// LatencyMs is the total wall-clock time of the invocation.
	LatencyMs int64

	// Breakdown is the per-stage latency in milliseconds, keyed by the fixed
	// stage set {stt, rag, llm, tts}.
	Breakdown map[string]int64

	// Flags lists the degradations that occurred, if any.
	Flags []string
}

func newResult() *Result {
	return &Result{
		Breakdown: map[string]int64{
			StageSTT: 0,
			StageRAG: 0,
			StageLLM: 0,
			StageTTS: 0,
		},
	}
}

func (r *Result) addFlag(flag string) {
	for _, f := range r.Flags {
		if f == flag {
			return
		}
	}
	r.Flags = append(r.Flags, flag)
}

// HasFlag reports whether the result carries the given degradation flag.
func (r *Result) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
