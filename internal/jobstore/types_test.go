package jobstore

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusCreated, StatusProcessing, true},
		{StatusCreated, StatusFailed, true},
		{StatusCreated, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCreated, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusProcessing, false},
	}

	for _, c := range cases {
		if got := ValidTransition(c.from, c.to); got != c.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(StatusCreated) {
		t.Error("CREATED must not be terminal")
	}
	if IsTerminal(StatusProcessing) {
		t.Error("PROCESSING must not be terminal")
	}
	if !IsTerminal(StatusCompleted) {
		t.Error("COMPLETED must be terminal")
	}
	if !IsTerminal(StatusFailed) {
		t.Error("FAILED must be terminal")
	}
}
