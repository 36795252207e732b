package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/livecoach/pkg/audio"
)

// ErrBackendNotRegistered is returned by the Create methods when no factory
// has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: audio backend not registered")

// CaptureFactory builds a fresh capture source. Capture sources are single
// use, so a factory is called once per session. onDrop is called for each
// frame the source discards because the consumer fell behind.
type CaptureFactory func(dev DeviceConfig, frameBuffer int, onDrop func()) (audio.CaptureSource, error)

// PlaybackFactory opens an output sink running at sampleRate.
type PlaybackFactory func(dev DeviceConfig, sampleRate int) (audio.PlaybackSink, error)

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	capture  map[string]CaptureFactory
	playback map[string]PlaybackFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:  make(map[string]CaptureFactory),
		playback: make(map[string]PlaybackFactory),
	}
}

// RegisterCapture registers a capture backend under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory CaptureFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterPlayback registers a playback backend under name.
func (r *Registry) RegisterPlayback(name string, factory PlaybackFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playback[name] = factory
}

// CreateCapture instantiates a capture source using the factory registered
// under dev.Backend. Returns [ErrBackendNotRegistered] if none exists.
func (r *Registry) CreateCapture(dev DeviceConfig, frameBuffer int, onDrop func()) (audio.CaptureSource, error) {
	r.mu.RLock()
	factory, ok := r.capture[dev.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrBackendNotRegistered, dev.Backend)
	}
	return factory(dev, frameBuffer, onDrop)
}

// CreatePlayback opens a sink using the factory registered under
// dev.Backend.
func (r *Registry) CreatePlayback(dev DeviceConfig, sampleRate int) (audio.PlaybackSink, error) {
	r.mu.RLock()
	factory, ok := r.playback[dev.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: playback/%q", ErrBackendNotRegistered, dev.Backend)
	}
	return factory(dev, sampleRate)
}

// Backends returns the registered capture and playback backend names, sorted.
func (r *Registry) Backends() (capture, playback []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := range r.capture {
		capture = append(capture, name)
	}
	for name := range r.playback {
		playback = append(playback, name)
	}
	slices.Sort(capture)
	slices.Sort(playback)
	return capture, playback
}
