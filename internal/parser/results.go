// Package parser reads newline-delimited JSON result files produced by the
// extraction service. Each line is parsed independently so one corrupt line
// never costs the rest of a completed batch.
package parser

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxLineBytes bounds a single result line; extraction payloads can be large
const maxLineBytes = 1024 * 1024

// rawTruncateLen caps how much of a corrupt line is kept in the error record
const rawTruncateLen = 200

// RecordError is the error marker the service attaches to a failed document
type RecordError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ResultRecord is one parsed line of job output
type ResultRecord struct {
	Key      string `json:"key"`
	Response struct {
		Text string `json:"text"`
	} `json:"response"`
	Error *RecordError `json:"error,omitempty"`
}

// LineError records a malformed line that was skipped
type LineError struct {
	Line int    `json:"line"`
	Raw  string `json:"raw"`
	Err  string `json:"error"`
}

// ParseResults reads a newline-delimited JSON stream and returns the
// successfully parsed records alongside the errors for malformed or
// oversized lines. Blank lines are skipped silently. The caller decides
// whether partial success is acceptable.
func ParseResults(r io.Reader) ([]ResultRecord, []LineError, error) {
	reader := bufio.NewReaderSize(r, 64*1024)

	var records []ResultRecord
	var lineErrors []LineError

	lineNo := 0
	for {
		line, tooLong, err := readLine(reader)
		atEOF := errors.Is(err, io.EOF)
		if err != nil && !atEOF {
			return records, lineErrors, err
		}
		if atEOF && len(line) == 0 {
			return records, lineErrors, nil
		}
		lineNo++

		switch {
		case tooLong:
			lineErrors = append(lineErrors, LineError{
				Line: lineNo,
				Raw:  truncateRaw(line),
				Err:  fmt.Sprintf("line exceeds %d bytes", maxLineBytes),
			})
			log.Warn().Int("line", lineNo).Msg("Skipping oversized result line")

		case len(strings.TrimSpace(string(line))) == 0:

		default:
			var record ResultRecord
			if err := json.Unmarshal(line, &record); err != nil {
				lineErrors = append(lineErrors, LineError{
					Line: lineNo,
					Raw:  truncateRaw(line),
					Err:  err.Error(),
				})
				log.Warn().Int("line", lineNo).Err(err).Msg("Skipping malformed result line")
				break
			}
			records = append(records, record)
		}

		if atEOF {
			return records, lineErrors, nil
		}
	}
}

// readLine assembles one physical line, discarding the remainder of lines
// longer than maxLineBytes so one oversized line never aborts the stream.
// Reports whether the line was over the cap.
func readLine(r *bufio.Reader) ([]byte, bool, error) {
	var line []byte
	total := 0
	for {
		chunk, isPrefix, err := r.ReadLine()
		total += len(chunk)
		if room := maxLineBytes - len(line); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			line = append(line, chunk...)
		}
		if err != nil || !isPrefix {
			return line, total > maxLineBytes, err
		}
	}
}

func truncateRaw(line []byte) string {
	if len(line) > rawTruncateLen {
		return string(line[:rawTruncateLen])
	}
	return string(line)
}
