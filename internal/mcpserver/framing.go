package mcpserver

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// wireMode is how a peer frames messages: LSP-style Content-Length headers or
// one JSON document per line.
type wireMode int

const (
	modeFramed wireMode = iota
	modeJSONLine
)

func (m wireMode) String() string {
	if m == modeJSONLine {
		return "jsonline"
	}
	return "framed"
}

// readMessage reads the next message and reports how it was framed. Blank
// lines between messages are skipped.
func readMessage(r *bufio.Reader) ([]byte, wireMode, error) {
	var line string
	for {
		var err error
		line, err = r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && strings.TrimSpace(line) == "" {
				return nil, modeFramed, io.EOF
			}
			if !errors.Is(err, io.EOF) {
				return nil, modeFramed, err
			}
		}
		if strings.TrimSpace(line) != "" {
			break
		}
		if err != nil {
			return nil, modeFramed, io.EOF
		}
	}

	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		payload, err := readJSONLine(r, line)
		return payload, modeJSONLine, err
	}

	payload, err := readFramed(r, line)
	return payload, modeFramed, err
}

// readJSONLine accumulates lines until they form one valid JSON document, so
// pretty-printed input is accepted too.
func readJSONLine(r *bufio.Reader, first string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(first)
	for {
		if doc := bytes.TrimSpace(buf.Bytes()); json.Valid(doc) {
			return doc, nil
		}
		line, err := r.ReadString('\n')
		buf.WriteString(line)
		if err != nil {
			if doc := bytes.TrimSpace(buf.Bytes()); json.Valid(doc) {
				return doc, nil
			}
			return nil, err
		}
	}
}

func readFramed(r *bufio.Reader, first string) ([]byte, error) {
	contentLength := -1
	line := first
	for {
		header := strings.TrimSpace(line)
		if header == "" {
			break
		}
		if key, value, ok := strings.Cut(header, ":"); ok && strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid Content-Length %q", strings.TrimSpace(value))
			}
			contentLength = n
		}

		var err error
		if line, err = r.ReadString('\n'); err != nil {
			return nil, err
		}
	}

	if contentLength < 0 {
		return nil, errors.New("missing Content-Length header")
	}
	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeMessage(w *bufio.Writer, mode wireMode, payload []byte) error {
	if mode == modeFramed {
		if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
			return err
		}
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if mode == modeJSONLine {
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}
