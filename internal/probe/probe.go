package probe

import (
	"fmt"
	"net"
	"time"
)

// DialTimeout bounds a single liveness probe.
const DialTimeout = 500 * time.Millisecond

// PortInUse reports whether something currently accepts TCP connections
// on the given local port. Used both to find free ports during allocation
// and to detect that a prior occupant is gone.
func PortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), DialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
