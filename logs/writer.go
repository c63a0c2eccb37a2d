// Package logs persists each chassis's SOL byte stream to a rotated,
// human-readable transcript file. Adapted from the teacher's
// logs/writer.go: the ANSI-escape/cursor-redraw cleaning and
// screen-redraw line dedup are generic terminal-text concerns that apply
// identically to a BIOS/Linux console reached over SOL, so the
// algorithms are kept; only the per-target key (chassis name instead of
// managed-server name) and the trimmed admin surface are domain-specific.
package logs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var cursorPosRegex = regexp.MustCompile(`\x1b\[\d+;\d*[Hf]|\x1b\[\d+[Hf]`)

func cleanCursorPositions(data []byte) []byte {
	return cursorPosRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		semi := bytes.IndexByte(match, ';')
		if semi == -1 {
			return []byte("\n")
		}
		col := 0
		for _, c := range match[semi+1 : len(match)-1] {
			if c >= '0' && c <= '9' {
				col = col*10 + int(c-'0')
			}
		}
		if col <= 1 {
			return []byte("\n")
		}
		return nil
	})
}

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[()][AB012]|\x1b[=>]|\x1b[78]|\x1b[DMEHc]`)
var orphanedAnsiRegex = regexp.MustCompile(`\[[=?]?[\d;]*[A-Za-z]|\[[=?]?[\d;]+$`)
var orphanedAnsiLineRegex = regexp.MustCompile(`(?m)\[[=?]?[\d;]+$`)

// recentLines suppresses screen-redraw duplicate lines for a TTL window,
// since a BIOS redrawing via cursor positioning produces identical lines
// seconds apart that would otherwise bloat the transcript.
type recentLines struct {
	lines    map[string]time.Time
	dupCount int
	ttl      time.Duration
}

func newRecentLines() *recentLines {
	return &recentLines{lines: make(map[string]time.Time), ttl: 10 * time.Second}
}

func (rl *recentLines) checkLine(line string) (write bool, banner string) {
	line = string(bytes.TrimRight([]byte(line), " \t"))
	if line == "" {
		return true, ""
	}
	now := time.Now()
	for k, t := range rl.lines {
		if now.Sub(t) > rl.ttl {
			delete(rl.lines, k)
		}
	}
	if _, exists := rl.lines[line]; exists {
		rl.dupCount++
		rl.lines[line] = now
		return false, ""
	}
	if rl.dupCount > 0 {
		banner = fmt.Sprintf("(Duplicated %d lines)\n", rl.dupCount)
		rl.dupCount = 0
	}
	rl.lines[line] = now
	return true, banner
}

// Writer fans SOL byte chunks, keyed by chassis name, into rotated
// transcript files under basePath/<chassis>/.
type Writer struct {
	basePath      string
	retentionDays int

	mu         sync.Mutex
	files      map[string]*os.File
	pending    map[string][]byte
	lastLine   map[string][]byte
	trailingNL map[string]int
	repeats    map[string]*recentLines
}

func NewWriter(basePath string, retentionDays int) *Writer {
	return &Writer{
		basePath:      basePath,
		retentionDays: retentionDays,
		files:         make(map[string]*os.File),
		pending:       make(map[string][]byte),
		lastLine:      make(map[string][]byte),
		trailingNL:    make(map[string]int),
		repeats:       make(map[string]*recentLines),
	}
}

func (w *Writer) Write(chassisName string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.getOrCreateFile(chassisName)
	if err != nil {
		return err
	}

	if prev, ok := w.pending[chassisName]; ok && len(prev) > 0 {
		data = append(prev, data...)
		delete(w.pending, chassisName)
	}
	if i := bytes.LastIndexByte(data, '\x1b'); i >= 0 && i > len(data)-6 {
		tail := data[i:]
		last := tail[len(tail)-1]
		if !((last >= 'A' && last <= 'Z') || (last >= 'a' && last <= 'z')) {
			w.pending[chassisName] = append([]byte{}, tail...)
			data = data[:i]
		}
	}

	cleaned := cleanLogData(data)
	if len(cleaned) == 0 {
		return nil
	}

	content := bytes.TrimLeft(cleaned, "\n")
	if len(content) > 0 && !bytes.Contains(content, []byte("\n")) {
		normalized := bytes.TrimRight(bytes.TrimRight(content, " \t"), "/-\\|.")
		if last, ok := w.lastLine[chassisName]; ok && bytes.Equal(normalized, last) {
			return nil
		}
		w.lastLine[chassisName] = append([]byte{}, normalized...)
	} else if len(content) > 0 {
		if idx := bytes.LastIndexByte(content, '\n'); idx >= 0 {
			last := bytes.TrimRight(bytes.TrimRight(content[idx+1:], " \t"), "/-\\|.")
			if len(last) > 0 {
				w.lastLine[chassisName] = append([]byte{}, last...)
			}
		}
	}

	prevNL := w.trailingNL[chassisName]
	if prevNL > 0 {
		leadingNL := 0
		for leadingNL < len(cleaned) && cleaned[leadingNL] == '\n' {
			leadingNL++
		}
		if total := prevNL + leadingNL; total > 2 {
			trim := total - 2
			if trim > leadingNL {
				trim = leadingNL
			}
			cleaned = cleaned[trim:]
		}
	}
	if len(cleaned) == 0 {
		return nil
	}

	rt := w.repeats[chassisName]
	if rt == nil {
		rt = newRecentLines()
		w.repeats[chassisName] = rt
	}
	lines := bytes.Split(cleaned, []byte("\n"))
	var out []byte
	for _, line := range lines {
		write, banner := rt.checkLine(string(line))
		if banner != "" {
			out = append(out, []byte(banner)...)
		}
		if write {
			out = append(out, line...)
			out = append(out, '\n')
		}
	}
	if len(cleaned) > 0 && cleaned[len(cleaned)-1] != '\n' && len(out) > 0 {
		out = out[:len(out)-1]
	}
	cleaned = out
	if len(cleaned) == 0 {
		return nil
	}

	trailNL := 0
	for i := len(cleaned) - 1; i >= 0 && cleaned[i] == '\n'; i-- {
		trailNL++
	}
	w.trailingNL[chassisName] = trailNL

	_, err = f.Write(cleaned)
	return err
}

func cleanLogData(data []byte) []byte {
	data = cleanCursorPositions(data)
	data = ansiRegex.ReplaceAll(data, nil)
	data = orphanedAnsiRegex.ReplaceAll(data, nil)
	data = orphanedAnsiLineRegex.ReplaceAll(data, nil)

	if bytes.ContainsRune(data, '\r') {
		data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
		crLines := bytes.Split(data, []byte("\n"))
		for i, line := range crLines {
			if idx := bytes.LastIndexByte(line, '\r'); idx >= 0 {
				crLines[i] = line[idx+1:]
			}
		}
		data = bytes.Join(crLines, []byte("\n"))
	}

	result := make([]byte, 0, len(data))
	for _, c := range data {
		if c == '\n' || c == '\t' || (c >= 32 && c < 127) {
			result = append(result, c)
		}
	}

	lines := bytes.Split(result, []byte("\n"))
	result = result[:0]
	for i, line := range lines {
		line = bytes.TrimRight(line, " \t")
		if i > 0 {
			result = append(result, '\n')
		}
		result = append(result, line...)
	}
	for bytes.Contains(result, []byte("\n\n\n")) {
		result = bytes.ReplaceAll(result, []byte("\n\n\n"), []byte("\n\n"))
	}
	return result
}

func (w *Writer) Rotate(chassisName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if f, exists := w.files[chassisName]; exists {
		f.Close()
		delete(w.files, chassisName)
	}
	dir := filepath.Join(w.basePath, chassisName)
	os.Remove(filepath.Join(dir, "current.log"))
	delete(w.lastLine, chassisName)
	delete(w.trailingNL, chassisName)
	delete(w.repeats, chassisName)
	return nil
}

func (w *Writer) getOrCreateFile(chassisName string) (*os.File, error) {
	if f, exists := w.files[chassisName]; exists {
		return f, nil
	}
	dir := filepath.Join(w.basePath, chassisName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	symlinkPath := filepath.Join(dir, "current.log")
	if target, err := os.Readlink(symlinkPath); err == nil {
		existingPath := filepath.Join(dir, target)
		if f, err := os.OpenFile(existingPath, os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			w.files[chassisName] = f
			return f, nil
		}
	}

	filename := time.Now().Format("2006-01-02_15-04-05") + ".log"
	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	w.files[chassisName] = f
	os.Remove(symlinkPath)
	os.Symlink(filename, symlinkPath)
	log.Infof("logs: created transcript file %s", path)
	return f, nil
}

func (w *Writer) ListLogs(chassisName string) ([]string, error) {
	dir := filepath.Join(w.basePath, chassisName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	type logEntry struct {
		name    string
		modTime time.Time
	}
	var found []logEntry
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".log" && entry.Name() != "current.log" {
			if info, err := entry.Info(); err == nil {
				found = append(found, logEntry{entry.Name(), info.ModTime()})
			}
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].modTime.After(found[j].modTime) })

	names := make([]string, len(found))
	for i, l := range found {
		names[i] = l.name
	}
	return names, nil
}

func (w *Writer) GetLogPath(chassisName, filename string) string {
	return filepath.Join(w.basePath, chassisName, filename)
}

func (w *Writer) GetCurrentLogContent(chassisName string) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f, exists := w.files[chassisName]; exists {
		f.Sync()
	}
	data, err := os.ReadFile(filepath.Join(w.basePath, chassisName, "current.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return []byte{}, nil
		}
		return nil, err
	}
	return data, nil
}

func (w *Writer) GetCurrentLogTarget(chassisName string) (filename, fullPath string, err error) {
	symlinkPath := filepath.Join(w.basePath, chassisName, "current.log")
	target, err := os.Readlink(symlinkPath)
	if err != nil {
		return "", "", err
	}
	return target, filepath.Join(w.basePath, chassisName, target), nil
}

func (w *Writer) Cleanup() {
	if w.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)
	entries, err := os.ReadDir(w.basePath)
	if err != nil {
		return
	}
	for _, chassisDir := range entries {
		if !chassisDir.IsDir() {
			continue
		}
		chassisPath := filepath.Join(w.basePath, chassisDir.Name())
		logFiles, err := os.ReadDir(chassisPath)
		if err != nil {
			continue
		}
		for _, logFile := range logFiles {
			if logFile.IsDir() || filepath.Ext(logFile.Name()) != ".log" {
				continue
			}
			if info, err := logFile.Info(); err == nil && info.ModTime().Before(cutoff) {
				path := filepath.Join(chassisPath, logFile.Name())
				os.Remove(path)
				log.Infof("logs: cleaned up old transcript %s", path)
			}
		}
	}
}

func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range w.files {
		f.Close()
	}
	w.files = make(map[string]*os.File)
}
