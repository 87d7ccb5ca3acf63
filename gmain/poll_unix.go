//go:build linux || darwin

package gmain

import (
	"golang.org/x/sys/unix"
)

// poll waits for any of fds, for up to timeoutMs (negative blocks
// indefinitely). An interrupted wait (EINTR) is reported as "nothing ready".
func poll(fds []unix.PollFd, timeoutMs int) error {
	_, err := unix.Poll(fds, timeoutMs)
	if err == unix.EINTR {
		for i := range fds {
			fds[i].Revents = 0
		}
		return nil
	}
	return err
}
