package iec62056

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sigurn/crc16"
)

var arcTable = crc16.MakeTable(crc16.CRC16_ARC)

// Listen decodes the mode D telegrams pushed on r until reading fails or ctx
// is done. Telegrams that do not decode are logged and skipped.
func Listen(ctx context.Context, r io.Reader, handle func(DataMessage), log zerolog.Logger) error {
	reader := bufio.NewReader(r)
	for {
		telegram, err := readTelegram(reader)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return fmt.Errorf("reading telegram: %w", err)
		}

		msg, err := ParseMessage([]byte(telegram))
		if err != nil {
			log.Warn().Err(err).Msg("skipping telegram")
			continue
		}
		handle(msg)
	}
}

// readTelegram collects the lines from "/" up to the "!" line.
func readTelegram(reader *bufio.Reader) (string, error) {
	var buffer strings.Builder
	var inTelegram bool

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}

		if strings.HasPrefix(line, "/") {
			buffer.Reset()
			buffer.WriteString(line)
			inTelegram = true
		} else if inTelegram {
			buffer.WriteString(line)
			if strings.HasPrefix(strings.TrimSpace(line), "!") {
				return buffer.String(), nil
			}
		}
	}
}

// CheckTelegramCRC validates the CRC16/ARC after "!", telegrams without one
// pass.
func CheckTelegramCRC(telegram string) error {
	idx := strings.LastIndexByte(telegram, '!')
	if idx < 0 {
		return fmt.Errorf("%w: missing end of telegram", ErrDataBlock)
	}
	given := strings.TrimSpace(telegram[idx+1:])
	if given == "" {
		return nil
	}
	if len(given) < 4 {
		return fmt.Errorf("%w: short checksum %q", ErrCRC, given)
	}

	calc := fmt.Sprintf("%04X", crc16.Checksum([]byte(telegram[:idx+1]), arcTable))
	if strings.ToUpper(given[:4]) != calc {
		return fmt.Errorf("%w: got %s, computed %s", ErrCRC, given[:4], calc)
	}
	return nil
}
