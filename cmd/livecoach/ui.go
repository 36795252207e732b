package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/livecoach/internal/config"
)

var (
	accent = lipgloss.Color("#ff6fae")
	dim    = lipgloss.Color("#6e7681")
	red    = lipgloss.Color("#ff5f5f")
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelStyle  = lipgloss.NewStyle().Foreground(dim).Width(10)
	bannerStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 1)
	coachStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent)
	statusStyle = lipgloss.NewStyle().Foreground(dim).Italic(true)
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(red)
)

// transcriptView prints the coach's running transcript and status lines.
// Text deltas are appended to the current line; status and error lines
// always start on a fresh one.
type transcriptView struct {
	mu     sync.Mutex
	w      io.Writer
	inLine bool
}

func newTranscriptView(w io.Writer) *transcriptView {
	return &transcriptView{w: w}
}

// Banner prints a summary of the effective configuration.
func (v *transcriptView) Banner(cfg *config.Config, cfgPath string) {
	if cfgPath == "" {
		cfgPath = "(defaults)"
	}
	voice := cfg.Live.Voice
	if voice == "" {
		voice = "(server default)"
	}
	metrics := cfg.Server.MetricsAddr
	if metrics != "off" {
		metrics = "http://" + metrics + "/metrics"
	}
	rows := [][2]string{
		{"config", cfgPath},
		{"voice", voice},
		{"capture", cfg.Audio.Capture.Backend},
		{"playback", cfg.Audio.Playback.Backend},
		{"metrics", metrics},
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("livecoach " + version))
	for _, r := range rows {
		b.WriteString("\n" + labelStyle.Render(r[0]) + r[1])
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.w, bannerStyle.Render(b.String()))
}

// Coach appends a transcript delta.
func (v *transcriptView) Coach(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.inLine {
		fmt.Fprint(v.w, coachStyle.Render("coach › "))
		v.inLine = true
	}
	fmt.Fprint(v.w, text)
}

func (v *transcriptView) Status(msg string) { v.line(statusStyle.Render(msg)) }

func (v *transcriptView) Error(msg string) { v.line(errorStyle.Render(msg)) }

func (v *transcriptView) line(s string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.inLine {
		fmt.Fprintln(v.w)
		v.inLine = false
	}
	fmt.Fprintln(v.w, s)
}
