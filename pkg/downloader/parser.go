package downloader

import (
	"regexp"
	"strconv"
	"strings"
)

// Event is one normalized observation parsed from a downloader output line.
type Event struct {
	// Percent is valid only when HasPercent is set.
	Percent    float64
	HasPercent bool
	// ErrorText carries the verbatim line for explicit downloader errors.
	ErrorText string
}

// ProgressParser turns one output line into an Event. The parser is an
// internal, swappable strategy: supporting another downloader tool means
// substituting the parser, not duplicating the driver.
type ProgressParser interface {
	ParseLine(line string) Event
}

var (
	ytdlpPercent = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
)

// YTDLPParser understands yt-dlp's --newline output: progress lines such as
// "[download]  42.7% of 10.00MiB at 1.2MiB/s" and "ERROR: ..." markers.
type YTDLPParser struct{}

func (YTDLPParser) ParseLine(line string) Event {
	l := strings.TrimSpace(line)
	if l == "" {
		return Event{}
	}
	if strings.HasPrefix(l, "ERROR:") {
		return Event{ErrorText: l}
	}
	if !strings.HasPrefix(l, "[download]") {
		return Event{}
	}
	m := ytdlpPercent.FindStringSubmatch(l)
	if len(m) < 2 {
		return Event{}
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct < 0 || pct > 100 {
		return Event{}
	}
	return Event{Percent: pct, HasPercent: true}
}
