// Package recorder implements the append-only TSV history of backup
// actions: the authoritative, tamper-resistant audit trail an
// operator trusts over the log stream.
package recorder

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Action names the kind of row written to the record file.
type Action string

const (
	Full       Action = "full"
	Incr       Action = "incr"
	DestroyTmp Action = "destroytmp"
	ErrorRow   Action = "error"
)

// header lists the TSV columns in order.
var header = []string{
	"time", "backupSet", "backupPool", "action",
	"src1Snap", "src2Snap", "backupSnap", "size", "exception", "info",
}

// whitespaceRe collapses any run of whitespace (including the tabs and
// newlines that would otherwise corrupt the TSV) to a single space.
var whitespaceRe = regexp.MustCompile(`\s+`)

// Recorder appends rows to a TSV record file. Every record is flushed and
// fsynced before Record returns, so a crash mid-run leaves a coherent
// prefix of the file rather than a torn line.
type Recorder struct {
	file *os.File
	// mirror optionally receives a copy of every line written, e.g. so a
	// run can be watched on stdout without tailing the TSV file
	// separately (original_source's BackupRecorder(recordTsvFile, outFh)).
	mirror io.Writer
}

// Open opens (creating if necessary) the record file at path for
// appending. If the file is newly created (or was empty), the header row
// is written once; an existing non-empty file is never rewritten.
func Open(path string, mirror io.Writer) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening record file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("statting record file %s: %w", path, err)
	}
	r := &Recorder{file: f, mirror: mirror}
	if info.Size() == 0 {
		if err := r.writeLine(strings.Join(header, "\t")); err != nil {
			f.Close()
			return nil, err
		}
	} else if mirror != nil {
		// Mirror still gets a header even when the file itself already
		// has one, so the mirrored stream is always self-describing.
		if _, err := io.WriteString(mirror, strings.Join(header, "\t")+"\n"); err != nil {
			f.Close()
			return nil, err
		}
	}
	return r, nil
}

func sanitizeField(s string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

func (r *Recorder) writeLine(line string) error {
	if _, err := io.WriteString(r.file, line+"\n"); err != nil {
		return err
	}
	if err := r.file.Sync(); err != nil {
		return err
	}
	if r.mirror != nil {
		if _, err := io.WriteString(r.mirror, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// Row is one line of the record file.
type Row struct {
	Time       string
	BackupSet  string
	BackupPool string
	Action     Action
	Src1Snap   string
	Src2Snap   string
	BackupSnap string
	Size       string
	Exception  string
	Info       string
}

// Record appends one row. No field may contain a tab or newline; any that
// do have their internal whitespace collapsed to single spaces first.
func (r *Recorder) Record(row Row) error {
	cols := []string{
		sanitizeField(row.Time),
		sanitizeField(row.BackupSet),
		sanitizeField(row.BackupPool),
		sanitizeField(string(row.Action)),
		sanitizeField(row.Src1Snap),
		sanitizeField(row.Src2Snap),
		sanitizeField(row.BackupSnap),
		sanitizeField(row.Size),
		sanitizeField(row.Exception),
		sanitizeField(row.Info),
	}
	return r.writeLine(strings.Join(cols, "\t"))
}

// FileName returns the path of the underlying record file.
func (r *Recorder) FileName() string {
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

// Close closes the record file. Close is idempotent.
func (r *Recorder) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
