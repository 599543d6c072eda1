package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"config-checker/internal/model"
)

const reportTimeLayout = "2006-01-02 15:04:05"

// WriteReport renders the ranked outcomes into the human-readable report.
// The file is truncated; an empty slice still yields a header.
func WriteReport(path string, outcomes []model.Outcome, now time.Time) error {
	f, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if err := RenderReport(f, outcomes, now); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func RenderReport(w io.Writer, outcomes []model.Outcome, now time.Time) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "# V2Ray Config Checker Results")
	fmt.Fprintf(bw, "# Generated: %s\n", now.Format(reportTimeLayout))
	fmt.Fprintf(bw, "# Working configs: %d\n", len(outcomes))
	fmt.Fprintf(bw, "#%s\n\n", strings.Repeat("=", 50))

	for _, o := range outcomes {
		fmt.Fprintf(bw, "# [%s] Latency: %dms | %s\n", o.Candidate.Type().Label(), o.LatencyMs(), o.Candidate.Name)
		fmt.Fprintf(bw, "%s\n\n", o.Candidate.RawLink)
	}
	return bw.Flush()
}

// Record is the JSONL shape of one verified outcome.
type Record struct {
	Protocol  model.ProxyType `json:"protocol"`
	Name      string          `json:"name"`
	Server    string          `json:"server"`
	Port      int             `json:"port"`
	LatencyMs int64           `json:"latency_ms"`
	Country   string          `json:"country,omitempty"`
	Link      string          `json:"link"`
}

func NewRecord(o model.Outcome) Record {
	return Record{
		Protocol:  o.Candidate.Type(),
		Name:      o.Candidate.Name,
		Server:    o.Candidate.Address,
		Port:      o.Candidate.Port,
		LatencyMs: o.LatencyMs(),
		Country:   o.Country,
		Link:      o.Candidate.RawLink,
	}
}

type JSONLWriter struct {
	file *os.File
	mu   sync.Mutex
}

// NewJSONL truncates path. Each run owns its export.
func NewJSONL(path string) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &JSONLWriter{file: f}, nil
}

func (w *JSONLWriter) Write(o model.Outcome) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(NewRecord(o))
	if err != nil {
		return err
	}

	_, err = w.file.Write(append(data, '\n'))
	return err
}

func (w *JSONLWriter) WriteAll(outcomes []model.Outcome) error {
	for _, o := range outcomes {
		if err := w.Write(o); err != nil {
			return err
		}
	}
	return nil
}

func (w *JSONLWriter) Close() error {
	return w.file.Close()
}
