package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/rs/zerolog"

	"github.com/NotCoffee418/obis_meter_reader/pkg/rfc2217"
)

const ProtocolRFC2217 = "rfc2217"

// RemoteCreator opens rfc2217://host:port names.
type RemoteCreator struct {
	Log zerolog.Logger
}

func (c RemoteCreator) Protocol() string {
	return ProtocolRFC2217
}

func (c RemoteCreator) IsApplicable(portName string, kind Kind) bool {
	if kind == KindLocal {
		return false
	}
	u, err := url.Parse(portName)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, ProtocolRFC2217)
}

func (c RemoteCreator) Create(ctx context.Context, portName string, opts Options) (Transport, error) {
	u, err := url.Parse(portName)
	if err != nil || u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("%w: %s is not rfc2217://host:port", ErrUnsupportedOperation, portName)
	}

	if opts.ProbeHost {
		if rtt, err := ping(u.Hostname()); err != nil {
			c.Log.Warn().Err(err).Str("host", u.Hostname()).Msg("remote serial host did not answer ping")
		} else {
			c.Log.Debug().Dur("rtt", rtt).Str("host", u.Hostname()).Msg("remote serial host reachable")
		}
	}

	port, err := rfc2217.Dial(ctx, net.JoinHostPort(u.Hostname(), u.Port()), c.Log)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, fmt.Errorf("%w: %s: %w", ErrNoSuchHost, u.Hostname(), err)
		}
		return nil, fmt.Errorf("%w: unable to establish remote connection to serial port %s: %w",
			ErrUnsupportedOperation, portName, err)
	}

	if opts.BaudRate > 0 {
		if err := port.SetBaudRate(opts.BaudRate); err != nil {
			port.Close()
			return nil, fmt.Errorf("%w: setting baud rate on %s: %w", ErrUnsupportedOperation, portName, err)
		}
	}
	if opts.DataBits > 0 {
		if err := port.SetLine(byte(opts.DataBits), remoteParity(opts.Parity), remoteStopSize(opts.StopBits)); err != nil {
			port.Close()
			return nil, fmt.Errorf("%w: setting line parameters on %s: %w", ErrUnsupportedOperation, portName, err)
		}
	}
	return remotePort{Port: port, name: portName}, nil
}

func remoteParity(p Parity) byte {
	switch p {
	case ParityEven:
		return rfc2217.ParityEven
	case ParityOdd:
		return rfc2217.ParityOdd
	default:
		return rfc2217.ParityNone
	}
}

func remoteStopSize(bits uint) byte {
	if bits == 2 {
		return rfc2217.StopBits2
	}
	return rfc2217.StopBits1
}

type remotePort struct {
	*rfc2217.Port
	name string
}

func (p remotePort) Name() string {
	return p.name
}

func ping(host string) (time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, err
	}
	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false) // UDP-based, no root needed

	if err := pinger.Run(); err != nil {
		return 0, err
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return stats.AvgRtt, nil
	}
	return 0, fmt.Errorf("no response")
}
