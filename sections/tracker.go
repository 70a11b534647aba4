package sections

import (
	"strings"
	"unicode"
)

// Update describes what changed after one Append.
type Update struct {
	Section        Section
	SectionChanged bool

	// ReasoningDelta and AnswerDelta extend the text already reported for
	// each part. Text that could still turn into a label is held back.
	ReasoningDelta string
	AnswerDelta    string

	// Reset is set when previously reported text no longer matches the
	// buffer, e.g. a preamble that turned out to precede a reasoning label.
	// Callers should re-render from Result.
	Reset bool

	Result SplitResult
}

// Tracker owns a growing stream buffer and re-classifies it on every append.
// It is not safe for concurrent use.
type Tracker struct {
	set       DelimiterSet
	buf       strings.Builder
	section   Section
	reasoning string
	answer    string
}

// NewTracker creates a tracker using the package delimiter table.
func NewTracker() *Tracker {
	return NewTrackerWithSet(Delimiters)
}

// NewTrackerWithSet creates a tracker for a custom delimiter set.
func NewTrackerWithSet(set DelimiterSet) *Tracker {
	return &Tracker{set: set, section: SectionNone}
}

// Append adds delta to the buffer and reports the resulting changes.
func (t *Tracker) Append(delta string) Update {
	t.buf.WriteString(delta)
	return t.update(true)
}

// Flush treats the buffer as complete and reports any text still held back.
func (t *Tracker) Flush() Update {
	return t.update(false)
}

func (t *Tracker) update(holdBack bool) Update {
	buffer := t.buf.String()

	res, ph := t.set.split(buffer)
	up := Update{Section: t.section, Result: res}

	if sec := t.set.Detect(buffer); sec.rank() > t.section.rank() {
		t.section = sec
		up.Section = sec
		up.SectionChanged = true
	}

	reasoning, answer := res.Reasoning, res.FinalAnswer
	if holdBack {
		switch ph {
		case phaseUnstructured:
			answer = t.holdBack(answer)
		case phaseReasoningOpen:
			reasoning = t.holdBack(reasoning)
		}
	}

	var reset bool
	up.ReasoningDelta, t.reasoning, reset = extend(t.reasoning, reasoning)
	up.Reset = up.Reset || reset
	up.AnswerDelta, t.answer, reset = extend(t.answer, answer)
	up.Reset = up.Reset || reset

	return up
}

// Buffer returns the full text appended so far.
func (t *Tracker) Buffer() string {
	return t.buf.String()
}

// Section returns the live indicator.
func (t *Tracker) Section() Section {
	return t.section
}

// Reported returns the text reported through deltas so far.
func (t *Tracker) Reported() SplitResult {
	return SplitResult{Reasoning: t.reasoning, FinalAnswer: t.answer}
}

// Result classifies the current buffer.
func (t *Tracker) Result() SplitResult {
	return t.set.Classify(t.buf.String())
}

func (t *Tracker) holdBack(s string) string {
	return strings.TrimRightFunc(s[:t.set.partialLabelStart(s)], unicode.IsSpace)
}

// extend returns the suffix of next beyond sent. When next no longer starts
// with sent the reported text is replaced and reset is true.
func extend(sent, next string) (delta, now string, reset bool) {
	if strings.HasPrefix(next, sent) {
		return next[len(sent):], next, false
	}
	return "", next, true
}
