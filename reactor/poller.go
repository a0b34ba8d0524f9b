// File: reactor/poller.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral poller result types.

package reactor

// Interest is a set of readiness kinds a watched socket is polled for.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// DescriptorInfo describes the readiness of one watched socket.
type DescriptorInfo struct {
	Socket       int
	Readable     bool
	Writable     bool
	Disconnected bool
	// BytesToRead is the number of bytes available for reading. Zero on a
	// readable stream socket means the peer closed the connection.
	BytesToRead int
}

// PollerResult is the outcome of one Wait call.
type PollerResult struct {
	// Timeout is set when nothing became ready before the deadline.
	Timeout bool
	// Interrupted is set when Interrupt was called during or before the wait.
	Interrupted     bool
	DescriptorInfos []DescriptorInfo
}

// Get returns the readiness detail for socket fd.
func (r PollerResult) Get(fd int) (DescriptorInfo, bool) {
	for _, d := range r.DescriptorInfos {
		if d.Socket == fd {
			return d, true
		}
	}
	return DescriptorInfo{}, false
}

type watchEntry struct {
	interest   Interest
	listener   bool
	registered bool
}
