package logger

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Entry represents a single line/entry in the log.
type Entry struct {
	Level    Level
	tag      string
	detail   string
	repeated int
}

func (e *Entry) String() string {
	s := strings.Builder{}
	s.WriteString(fmt.Sprintf("%s: %s", e.tag, e.detail))
	if e.repeated > 0 {
		s.WriteString(fmt.Sprintf(" (repeat x%d)", e.repeated+1))
	}
	s.WriteString("\n")
	return s.String()
}

// not exposing logger to outside of the package. the package level functions
// operate on the central logger.
type logger struct {
	crit sync.Mutex

	maxEntries int
	entries    []Entry

	// entries are copied to echo as they are added. nil for no echo
	echo io.Writer

	// highest level which is recorded
	threshold Level
}

func newLogger(maxEntries int) *logger {
	return &logger{
		maxEntries: maxEntries,
		entries:    make([]Entry, 0),
		threshold:  Warn,
	}
}

func (l *logger) allow(lvl Level) bool {
	l.crit.Lock()
	defer l.crit.Unlock()
	return lvl <= l.threshold
}

func (l *logger) log(lvl Level, tag, detail string) {
	l.crit.Lock()
	defer l.crit.Unlock()

	// remove all newline characters from tag and detail string
	tag = strings.ReplaceAll(tag, "\n", "")
	detail = strings.ReplaceAll(detail, "\n", "")

	var e *Entry
	if len(l.entries) > 0 {
		e = &l.entries[len(l.entries)-1]
	}

	if e == nil || detail != e.detail || tag != e.tag {
		l.entries = append(l.entries, Entry{Level: lvl, tag: tag, detail: detail})
		e = &l.entries[len(l.entries)-1]
		if l.echo != nil {
			io.WriteString(l.echo, e.String())
		}
	} else {
		// repeated entries are counted but not echoed again
		e.repeated++
	}

	// maintain maximum length
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
}

func (l *logger) logf(lvl Level, tag, detail string, args ...interface{}) {
	l.log(lvl, tag, fmt.Sprintf(detail, args...))
}

func (l *logger) clear() {
	l.crit.Lock()
	defer l.crit.Unlock()
	l.entries = l.entries[:0]
}

func (l *logger) write(output io.Writer) bool {
	l.crit.Lock()
	defer l.crit.Unlock()
	if len(l.entries) == 0 {
		return false
	}
	for _, e := range l.entries {
		io.WriteString(output, e.String())
	}
	return true
}

func (l *logger) setEcho(output io.Writer) {
	l.crit.Lock()
	defer l.crit.Unlock()
	l.echo = output
}

func (l *logger) setThreshold(lvl Level) {
	l.crit.Lock()
	defer l.crit.Unlock()
	l.threshold = lvl
}
