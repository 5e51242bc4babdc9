package opencode

import (
	"bufio"
	"io"
	"strings"
)

const (
	sseInitialBuffer = 64 * 1024
	sseMaxLine       = 1024 * 1024
)

// readSSE scans a server-sent event stream and calls emit with the joined
// data lines of each event. It stops when emit returns false, at EOF, or on
// a read error, which it returns. A clean EOF returns nil.
func readSSE(r io.Reader, emit func(payload string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, sseInitialBuffer), sseMaxLine)

	dataLines := make([]string, 0, 8)
	flush := func() bool {
		if len(dataLines) == 0 {
			return true
		}
		payload := strings.TrimSpace(strings.Join(dataLines, "\n"))
		dataLines = dataLines[:0]
		if payload == "" {
			return true
		}
		return emit(payload)
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
		if strings.TrimSpace(line) != "" {
			// event:, id:, retry: and comment lines carry nothing we use.
			continue
		}
		if !flush() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return nil
}
