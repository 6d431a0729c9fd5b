package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

type entry struct {
	Time  string `json:"ts"`
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

// Tail returns up to maxLines of the most recent entries in the log file at
// path, formatted as "15:04:05 LEVEL message". Lines that are not JSON are
// returned as written.
func Tail(path string, maxLines int) []string {
	if path == "" || maxLines <= 0 {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > maxLines {
			lines = lines[1:]
		}
	}
	for i, line := range lines {
		lines[i] = format(line)
	}
	return lines
}

func format(line string) string {
	var e entry
	if err := json.Unmarshal([]byte(line), &e); err != nil || e.Msg == "" {
		return line
	}
	stamp := e.Time
	if ts, err := time.Parse(time.RFC3339, e.Time); err == nil {
		stamp = ts.Format("15:04:05")
	}
	return fmt.Sprintf("%s %-5s %s", stamp, strings.ToUpper(e.Level), e.Msg)
}
