package runner

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/archstrap/archstrap/pkg/engine"
)

// DefaultProbeAddr is the connectivity probe target. Port 443 on a public
// resolver answers from almost any network that can also reach a package
// mirror.
const DefaultProbeAddr = "1.1.1.1:443"

// CheckConnectivity probes for a usable network path by opening a TCP
// connection. Failure is transient: flaky networks are exactly what the
// retry policy exists for.
func CheckConnectivity(ctx context.Context, addr string, timeout time.Duration) error {
	if addr == "" {
		addr = DefaultProbeAddr
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return engine.NewTransientError(
			fmt.Sprintf("no network connectivity to %s", addr), err)
	}
	conn.Close()
	return nil
}
