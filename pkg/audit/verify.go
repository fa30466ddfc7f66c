package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify checks the integrity of the whole chain.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrKeyNotSet
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := genesis
	var expectedSeq int64 = 1

	for i := range events {
		event := &events[i]
		result.RecordsTotal++
		ok := true

		if event.Chain.Sequence != expectedSeq {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d",
				event.ID, expectedSeq, event.Chain.Sequence))
		}
		if event.Chain.PrevHash != expectedPrev {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s", event.ID))
		}
		if !hmac.Equal([]byte(event.Chain.HMAC), []byte(l.sign(event))) {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", event.ID))
		}

		if ok {
			result.RecordsVerified++
		} else {
			result.Valid = false
		}
		expectedPrev = event.Chain.HMAC
		expectedSeq = event.Chain.Sequence + 1
	}

	if l.sequence > 0 && int64(result.RecordsTotal) < l.sequence {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(
			"log truncated: %d records on disk, chain state expects %d",
			result.RecordsTotal, l.sequence))
	}

	return result, nil
}

// ListEvents returns the most recent events, oldest first.
// limit 0 returns all; a zero since disables the time filter.
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	filtered := events[:0]
	for _, event := range events {
		if !since.IsZero() {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err != nil || !ts.After(since) {
				continue
			}
		}
		filtered = append(filtered, event)
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// readAll reads every log file in chronological order.
func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM.jsonl sorts chronologically
	sort.Strings(files)

	var all []Event
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", filepath.Base(file), err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}
