package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	netproxy "golang.org/x/net/proxy"
)

// Dial establishes a TCP connection to addr, routed through e's SOCKS5
// proxy if e is non-nil, or directly otherwise. The returned connection has
// no deadline set — callers (the SMTP dialog) own read/write timeouts.
func Dial(ctx context.Context, e *Entry, network, addr string, connectTimeout time.Duration) (net.Conn, error) {
	directDialer := &net.Dialer{Timeout: connectTimeout}

	if e == nil {
		return directDialer.DialContext(ctx, network, addr)
	}

	pdialer, err := netproxy.FromURL(e.URL(), directDialer)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}

	if cdialer, ok := pdialer.(netproxy.ContextDialer); ok {
		conn, err := cdialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("dial via proxy %s: %w", e.Addr(), err)
		}
		return conn, nil
	}

	// Fall back to the non-context Dial for proxy implementations that
	// don't support ContextDialer; a cancelled ctx can't interrupt this
	// branch mid-handshake, so it's only reached for unusual dialer
	// implementations golang.org/x/net/proxy may plug in.
	conn, err := pdialer.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial via proxy %s: %w", e.Addr(), err)
	}
	return conn, nil
}
