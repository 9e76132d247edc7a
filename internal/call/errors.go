package call

import "errors"

// ErrorKind classifies a call-level failure for the client-facing error
// event. Kinds map to recovery behaviour: some end the call, some recover
// back to listening with a scripted line.
type ErrorKind string

const (
	// KindCaptureUnavailable means caller audio stopped arriving or the
	// transport reported a capture failure.
	KindCaptureUnavailable ErrorKind = "capture_unavailable"

	// KindEmptyUtterance means the finalized turn carried too little speech
	// to transcribe. The session returns to listening silently.
	KindEmptyUtterance ErrorKind = "empty_utterance"

	// KindTranscriptionFailed means every transcription provider failed for
	// this turn. The session speaks the repeat prompt and listens again.
	KindTranscriptionFailed ErrorKind = "transcription_failed"

	// KindReasoningFailed means every reasoning provider failed. The session
	// speaks the apology line and listens again.
	KindReasoningFailed ErrorKind = "reasoning_failed"

	// KindSynthesisFailed means every synthesis provider failed. Fatal on
	// the greeting turn; otherwise the reply is delivered as text only.
	KindSynthesisFailed ErrorKind = "synthesis_failed"

	// KindTransportClosed means the client connection is gone. The session
	// ends immediately.
	KindTransportClosed ErrorKind = "transport_closed"
)

var (
	// ErrSessionNotFound is returned by the registry when no live session
	// has the requested ID.
	ErrSessionNotFound = errors.New("call: session not found")

	// ErrAlreadyAttached is returned when a second transport tries to attach
	// to a session that already has one.
	ErrAlreadyAttached = errors.New("call: session already has a transport attached")

	// ErrSessionEnded is returned for operations on a session that has
	// reached its terminal state.
	ErrSessionEnded = errors.New("call: session ended")
)
