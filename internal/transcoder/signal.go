package transcoder

import (
	"os"
	"syscall"
)

// terminateSignal is the graceful-stop signal sent before the hard kill
// escalation; SIGTERM gives ffmpeg a chance to flush and exit cleanly.
func terminateSignal() os.Signal {
	return syscall.SIGTERM
}
