package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nghyane/medistream/internal/json"
)

// sseWriter frames text as server-sent events. Each event carries an increasing
// id and one data line per text line, so a conforming parser rebuilds the text
// exactly (line breaks normalised to \n).
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
	nextID  int
}

func newSSEWriter(w io.Writer) *sseWriter {
	f, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: f, nextID: 1}
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func (s *sseWriter) Message(text string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", s.nextID)
	for _, line := range strings.Split(lineBreaks.Replace(text), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	s.nextID++
	return s.write(b.String())
}

// Error sends an "error" event whose data is a JSON {"detail": ...} body.
func (s *sseWriter) Error(detail string) error {
	body, err := json.Marshal(map[string]string{"detail": detail})
	if err != nil {
		return err
	}
	return s.write("event: error\ndata: " + string(body) + "\n\n")
}

// Comment sends a line clients ignore, keeping idle proxies from closing the stream.
func (s *sseWriter) Comment(text string) error {
	return s.write(": " + text + "\n\n")
}

func (s *sseWriter) write(frame string) error {
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
