package consult

import (
	"errors"

	"github.com/MrWong99/livecoach/pkg/audio"
	"github.com/MrWong99/livecoach/pkg/live"
)

var (
	// ErrAlreadyConnected is returned by Connect while a session is live.
	ErrAlreadyConnected = errors.New("consult: a session is already active")

	// ErrDisconnected is returned by Connect when Disconnect was called
	// before the session opened.
	ErrDisconnected = errors.New("consult: disconnected while connecting")

	// ErrNotPermitted is returned by [Gate.Check] when the entitlement check
	// denies a session.
	ErrNotPermitted = errors.New("consult: live consultation not permitted")
)

// fallbackMessage is shown for failures without a more specific hint.
const fallbackMessage = "Could not access microphone or connect to AI service."

// UserMessage maps an error from Connect or Errors to a short sentence that
// tells the user what to do next. It returns "" for a nil error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		srvErr  *live.ServerError
		connErr *live.ConnectionError
		trErr   *live.TransportError
	)
	switch {
	case errors.Is(err, ErrNotPermitted):
		return "Your plan does not include live consultations. Upgrade to start one."
	case errors.Is(err, ErrAlreadyConnected):
		return "A consultation is already in progress."
	case errors.Is(err, ErrDisconnected):
		return "The consultation was cancelled before it started."
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Microphone access was denied. Allow microphone access and try again."
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "No microphone or speaker is available. Check your audio devices and try again."
	case errors.As(err, &srvErr) && (srvErr.Code == 401 || srvErr.Code == 403):
		return "The AI service rejected the API key. Check your configuration and try again."
	case errors.As(err, &srvErr) && srvErr.Code == 429:
		return "The AI service is busy or your quota is exhausted. Try again in a moment."
	case errors.As(err, &trErr):
		return "The connection to the AI service was lost. Start a new consultation to continue."
	case errors.As(err, &connErr):
		return "Could not connect to the AI service. Check your network connection and try again."
	}
	return fallbackMessage
}
