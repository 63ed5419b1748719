package pipeline

import "strings"

// Compatibility describes whether a given input/output extension pair
// can be safely streamed through the transcoder's stdin/stdout, or
// whether it needs the buffered fallback path.
type Compatibility struct {
	StreamingSupported bool
	FallbackRecommended bool
	Reason             string
}

// formats the streaming transcoder handles reliably over pipes; a
// handful of container/codec combinations need random access (e.g.
// seeking for duration metadata) that a pipe can't provide, so they're
// routed to the buffered fallback instead. The fallback buffers the
// output in a temp file before uploading it; the transcoder itself is
// still given pipes for both input and output there.
var streamingUnsafeOutputs = map[string]bool{
	"m4a": true, // requires a seekable output for the moov atom
	"mp4": true,
}

var streamingUnsafeInputs = map[string]bool{
	"mov": true,
}

// CheckCompatibility reports whether inputExt -> outputExt can stream.
// Extensions are matched case-insensitively and without a leading dot.
func CheckCompatibility(inputExt, outputExt string) Compatibility {
	in := strings.ToLower(strings.TrimPrefix(inputExt, "."))
	out := strings.ToLower(strings.TrimPrefix(outputExt, "."))

	if streamingUnsafeInputs[in] {
		return Compatibility{
			StreamingSupported:  false,
			FallbackRecommended: true,
			Reason:              "input container " + in + " requires seekable access",
		}
	}
	if streamingUnsafeOutputs[out] {
		return Compatibility{
			StreamingSupported:  false,
			FallbackRecommended: true,
			Reason:              "output container " + out + " requires a seekable sink",
		}
	}
	return Compatibility{StreamingSupported: true}
}
