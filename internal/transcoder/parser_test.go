package transcoder

import (
	"strings"
	"testing"
)

func TestProgressParserEmitsFromDurationAndTime(t *testing.T) {
	var emitted []int
	var updates []ProgressUpdate
	p := NewProgressParser(func(u ProgressUpdate) {
		emitted = append(emitted, u.Percent)
		updates = append(updates, u)
	})

	input := strings.Join([]string{
		"ffmpeg version 6.0",
		"  Duration: 00:01:40.00, start: 0.000000, bitrate: 128 kb/s",
		"Stream mapping:",
		"size=     100kB time=00:00:10.00 bitrate= 128.0kbits/s",
		"size=     500kB time=00:00:50.00 bitrate= 128.0kbits/s",
		"size=    1000kB time=00:01:40.00 bitrate= 128.0kbits/s",
	}, "\n")

	if err := p.Scan(strings.NewReader(input)); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}

	if len(emitted) == 0 {
		t.Fatal("expected at least one progress emission")
	}

	for _, pct := range emitted {
		if pct < 15 || pct > 95 {
			t.Errorf("emitted percent %d outside the [15,95] processing-phase range", pct)
		}
	}

	// 10/100 -> 10%, clamped up to floor of 15.
	if emitted[0] != 15 {
		t.Errorf("first emission = %d, want clamped floor 15", emitted[0])
	}
	// 100/100 -> 100%, clamped down to ceiling of 95.
	last := emitted[len(emitted)-1]
	if last != 95 {
		t.Errorf("last emission = %d, want clamped ceiling 95", last)
	}

	for _, u := range updates {
		if u.TotalDuration != "00:01:40" {
			t.Errorf("TotalDuration = %q, want 00:01:40", u.TotalDuration)
		}
		if u.CurrentTime == "" {
			t.Error("expected CurrentTime to be populated once Duration: is known")
		}
	}
}

func TestProgressParserDebouncesRepeatedPercent(t *testing.T) {
	var emitted []int
	p := NewProgressParser(func(u ProgressUpdate) { emitted = append(emitted, u.Percent) })

	input := strings.Join([]string{
		"Duration: 00:00:10.00, start: 0.000000, bitrate: 128 kb/s",
		"time=00:00:05.00",
		"time=00:00:05.00",
		"time=00:00:05.00",
	}, "\n")

	if err := p.Scan(strings.NewReader(input)); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}

	if len(emitted) != 1 {
		t.Errorf("expected a single debounced emission, got %v", emitted)
	}
}

func TestProgressParserGradientFallbackWithoutDuration(t *testing.T) {
	var emitted []int
	p := NewProgressParser(func(u ProgressUpdate) { emitted = append(emitted, u.Percent) })

	// No Duration: line ever appears; Tick() drives the synthetic gradient.
	p.Tick()
	p.lastTick = p.lastTick.Add(-gradientTick) // force the debounce window to have elapsed
	p.Tick()

	if len(emitted) < 2 {
		t.Fatalf("expected the gradient fallback to emit on repeated ticks, got %v", emitted)
	}
	if emitted[len(emitted)-1] > gradientCap {
		t.Errorf("gradient emission %d exceeds cap %d", emitted[len(emitted)-1], gradientCap)
	}
}
