package downloader

import "testing"

func TestYTDLPParser_ParseLine(t *testing.T) {
	p := YTDLPParser{}

	tests := []struct {
		name        string
		line        string
		wantPercent float64
		wantHas     bool
		wantError   string
	}{
		{"typical progress", "[download]  42.7% of 10.00MiB at 1.2MiB/s ETA 00:07", 42.7, true, ""},
		{"integral percent", "[download] 100% of 10.00MiB in 00:08", 100, true, ""},
		{"zero percent", "[download]   0.0% of ~5.00MiB at Unknown speed", 0, true, ""},
		{"leading whitespace", "   [download] 12.5% of 1.00MiB", 12.5, true, ""},
		{"error marker", "ERROR: [youtube] dQw4w9WgXcQ: Video unavailable", 0, false, "ERROR: [youtube] dQw4w9WgXcQ: Video unavailable"},
		{"destination line has no percent", "[download] Destination: media/abc.mp4", 0, false, ""},
		{"non-download stage ignored", "[youtube] dQw4w9WgXcQ: Downloading webpage", 0, false, ""},
		{"merger ignored", "[Merger] Merging formats into \"abc.mp4\"", 0, false, ""},
		{"percent out of range ignored", "[download] 150.0% of 1.00MiB", 0, false, ""},
		{"empty line", "", 0, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := p.ParseLine(tt.line)
			if ev.HasPercent != tt.wantHas {
				t.Fatalf("HasPercent=%v want %v (event=%+v)", ev.HasPercent, tt.wantHas, ev)
			}
			if ev.HasPercent && ev.Percent != tt.wantPercent {
				t.Fatalf("Percent=%v want %v", ev.Percent, tt.wantPercent)
			}
			if ev.ErrorText != tt.wantError {
				t.Fatalf("ErrorText=%q want %q", ev.ErrorText, tt.wantError)
			}
		})
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		quality string
		want    string
	}{
		{"", "bv*+ba/b"},
		{"best", "bv*+ba/b"},
		{"Best", "bv*+ba/b"},
		{"audio", "ba/b"},
		{"720", "bv*[height<=720]+ba/b[height<=720]"},
		{"720p", "bv*[height<=720]+ba/b[height<=720]"},
		{"1080p60", "bv*[height<=1080]+ba/b[height<=1080]"},
		{"garbage", "bv*+ba/b"},
	}
	for _, tt := range tests {
		if got := formatFor(tt.quality); got != tt.want {
			t.Fatalf("formatFor(%q)=%q want %q", tt.quality, got, tt.want)
		}
	}
}
