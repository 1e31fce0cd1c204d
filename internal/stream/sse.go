package stream

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"
)

const maxLineSize = 1 << 20

// Message is one dispatched server-sent event.
type Message struct {
	ID    string
	Event string
	Data  string
	Retry time.Duration

	HasID    bool
	HasData  bool
	HasRetry bool
}

// Parser reads the text/event-stream wire format.
//
// Multiple data lines are joined with "\n", one space after the colon is stripped,
// comment lines are ignored and CR, LF and CRLF all end a line. A block is
// dispatched at the blank line that ends it; an unterminated block at EOF is dropped.
type Parser struct {
	scanner *bufio.Scanner
}

func NewParser(r io.Reader) *Parser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	sc.Split(scanLines)
	return &Parser{scanner: sc}
}

// Next returns the next message, or io.EOF when the stream ends.
func (p *Parser) Next() (Message, error) {
	var (
		msg  Message
		data strings.Builder
		seen bool
	)
	for p.scanner.Scan() {
		line := p.scanner.Text()
		if line == "" {
			if !seen {
				continue
			}
			msg.Data = data.String()
			return msg, nil
		}
		if line[0] == ':' {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "data":
			if msg.HasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			msg.HasData = true
			seen = true
		case "event":
			msg.Event = value
			seen = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				msg.ID = value
				msg.HasID = true
				seen = true
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				msg.Retry = time.Duration(ms) * time.Millisecond
				msg.HasRetry = true
				seen = true
			}
		}
	}
	if err := p.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

// scanLines splits on CRLF, LF or a lone CR.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// A trailing CR may be the first half of CRLF.
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
