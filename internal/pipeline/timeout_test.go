package pipeline

import "testing"

func TestDeriveTimeoutSmallFile(t *testing.T) {
	if got := DeriveTimeout(1 * mib); got != baseTimeout {
		t.Errorf("got %s, want %s", got, baseTimeout)
	}
}

func TestDeriveTimeoutMediumFile(t *testing.T) {
	if got := DeriveTimeout(20 * mib); got != mediumTimeout {
		t.Errorf("got %s, want %s", got, mediumTimeout)
	}
}

func TestDeriveTimeoutLargeFile(t *testing.T) {
	got := DeriveTimeout(51 * mib)
	if got != largeTimeout {
		t.Errorf("got %s, want %s", got, largeTimeout)
	}
}

func TestDeriveTimeoutLargeFileGrowsWithSize(t *testing.T) {
	got := DeriveTimeout(150 * mib) // 100 MiB past the 50 MiB threshold -> +2 increments
	want := largeTimeout + 2*perExtraChunk
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestDeriveTimeoutHardCap(t *testing.T) {
	got := DeriveTimeout(100000 * mib)
	if got != hardCapTimeout {
		t.Errorf("got %s, want hard cap %s", got, hardCapTimeout)
	}
}
