package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/NotCoffee418/obis_meter_reader/pkg/rfc2217"
	"github.com/NotCoffee418/obis_meter_reader/pkg/transport"
)

var errNoSignature = errors.New("server sent no signature")

// remoteSignature connects to an RFC 2217 port and waits for the answer to
// the signature request sent during negotiation.
func remoteSignature(ctx context.Context, portName string, timeout time.Duration, log zerolog.Logger) (string, error) {
	u, err := url.Parse(portName)
	if err != nil || !strings.EqualFold(u.Scheme, transport.ProtocolRFC2217) || u.Port() == "" {
		return "", fmt.Errorf("%w: %s", transport.ErrUnsupportedOperation, portName)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := rfc2217.Dial(ctx, u.Host, log)
	if err != nil {
		return "", err
	}
	defer p.Close()

	deadline, _ := ctx.Deadline()
	if err := p.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	buf := make([]byte, 256)
	for p.RemoteSignature() == "" {
		if _, err := p.Read(buf); err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return "", errNoSignature
			}
			return "", err
		}
	}
	if !p.ComPortAccepted() {
		log.Warn().Msg("server did not accept the COM-PORT option")
	}
	return p.RemoteSignature(), nil
}
