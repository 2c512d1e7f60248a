package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/weewx-zbxsender/bridge/internal/clock"
	"github.com/weewx-zbxsender/bridge/internal/models"
)

// maxPacketBytes bounds one packet line.
const maxPacketBytes = 1 << 20

// Reader decodes newline-delimited packets from a stream such as stdin.
type Reader struct {
	r      io.Reader
	source string
	clock  clock.Clock
	logger *zap.Logger
}

// NewReader creates a Reader that labels observations with source.
func NewReader(r io.Reader, source string, clk clock.Clock, logger *zap.Logger) *Reader {
	if clk == nil {
		clk = clock.Real()
	}
	return &Reader{r: r, source: source, clock: clk, logger: logger.Named("reader")}
}

// Run calls handle for every packet until the stream ends or ctx is done.
// It returns io.EOF when the stream ends, nil when ctx is cancelled.
// Malformed and oversized lines are logged and skipped.
func (r *Reader) Run(ctx context.Context, handle Handler) error {
	lines := make(chan line)
	readErr := make(chan error, 1)

	// The read blocks in Read, which ctx cannot interrupt.
	go func() {
		br := bufio.NewReaderSize(r.r, 64*1024)
		for {
			l, err := readLine(br, maxPacketBytes)
			if len(l.data) > 0 || l.tooLong {
				select {
				case lines <- l:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				readErr <- io.EOF
				return
			}
			if err != nil {
				readErr <- fmt.Errorf("read packets: %w", err)
				return
			}
		}
	}()

	var lineNo int
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case l := <-lines:
			lineNo++
			if l.tooLong {
				r.logger.Warn("Skipping malformed packet",
					zap.Int("line", lineNo),
					zap.Int("max_bytes", maxPacketBytes),
					zap.Error(errPacketTooLong))
				continue
			}
			obs, err := models.DecodePacket(l.data, r.source, r.clock.Now())
			if err != nil {
				r.logger.Warn("Skipping malformed packet",
					zap.Int("line", lineNo),
					zap.Error(err))
				continue
			}
			handle(obs)
		}
	}
}

var errPacketTooLong = errors.New("packet line too long")

// line is one trimmed input line. tooLong lines carry no data.
type line struct {
	data    []byte
	tooLong bool
}

// readLine reads up to the next newline. A line longer than limit bytes is
// consumed to its end and reported as tooLong. The error is io.EOF when
// the stream ends, possibly after a final unterminated line.
func readLine(br *bufio.Reader, limit int) (line, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(bytes.TrimRight(chunk, "\r\n")) > limit {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if tooLong {
			return line{tooLong: true}, err
		}
		return line{data: bytes.TrimSpace(buf)}, err
	}
}
