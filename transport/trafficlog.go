package transport

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Traffic direction labels, named after the file descriptors they mirror.
const (
	FdIn  = "STDIN"
	FdOut = "STDOUT"
)

// TrafficLog receives a copy of every wire line. Implementations are
// write-only observers: errors are swallowed and never influence the
// transport.
type TrafficLog interface {
	Record(fd string, line []byte)
}

type nopTrafficLog struct{}

func (nopTrafficLog) Record(string, []byte) {}

// FileTrafficLog writes one JSON entry per captured line:
// {"time":..., "fd":..., "type":"json", "json":...} when the line parses,
// {"time":..., "fd":..., "type":"text", "text":...} otherwise.
type FileTrafficLog struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewFileTrafficLog creates a traffic log writing NDJSON entries to w.
func NewFileTrafficLog(w io.Writer) *FileTrafficLog {
	return &FileTrafficLog{w: w, now: time.Now}
}

type trafficEntry struct {
	Time string `json:"time"`
	Fd   string `json:"fd"`
	Type string `json:"type"`
	JSON any    `json:"json,omitempty"`
	Text string `json:"text,omitempty"`
}

// Record implements TrafficLog.
func (l *FileTrafficLog) Record(fd string, line []byte) {
	entry := trafficEntry{
		Time: l.now().Format("2006-01-02T15:04:05.000"),
		Fd:   fd,
	}
	var parsed any
	if err := json.Unmarshal(line, &parsed); err == nil {
		entry.Type = "json"
		entry.JSON = parsed
	} else {
		entry.Type = "text"
		entry.Text = string(line)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(append(data, '\n'))
}
