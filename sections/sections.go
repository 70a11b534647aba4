// Package sections splits a streamed model reply into its reasoning and
// final answer parts using fixed textual labels.
package sections

import "strings"

// Delimiter is a recognized (reasoning label, answer label) pair.
type Delimiter struct {
	Reasoning string
	Answer    string
}

// DelimiterSet is an ordered list of label pairs. Earlier entries win among
// pairs that yield reasoning text.
type DelimiterSet []Delimiter

// Delimiters is the label table used by Classify and Detect.
var Delimiters = DelimiterSet{
	{Reasoning: "Step-by-step reasoning:", Answer: "Final Answer:"},
	{Reasoning: "Reasoning:", Answer: "Answer:"},
	{Reasoning: "Thinking:", Answer: "Answer:"},
	{Reasoning: "Analysis:", Answer: "Conclusion:"},
}

// SplitResult is the structured view of a buffer.
type SplitResult struct {
	Reasoning   string `json:"reasoning"`
	FinalAnswer string `json:"final_answer"`
}

// Section is the live indicator of which part of the reply is arriving.
type Section string

const (
	SectionNone      Section = "none"
	SectionReasoning Section = "reasoning"
	SectionAnswer    Section = "answer"
)

func (s Section) rank() int {
	switch s {
	case SectionReasoning:
		return 1
	case SectionAnswer:
		return 2
	default:
		return 0
	}
}

// Classify splits buffer using the package delimiter table.
func Classify(buffer string) SplitResult {
	return Delimiters.Classify(buffer)
}

// Detect reports the live section for buffer using the package delimiter table.
func Detect(buffer string) Section {
	return Delimiters.Detect(buffer)
}

// Classify splits buffer into reasoning and final answer. It never fails: a
// buffer without any reasoning label is returned whole as the final answer.
func (ds DelimiterSet) Classify(buffer string) SplitResult {
	res, _ := ds.split(buffer)
	return res
}

// phase records how far split got through a buffer.
type phase int

const (
	phaseUnstructured phase = iota
	phaseReasoningOpen
	phaseAnswerFound
)

// split applies the first pair whose reasoning label occurs and yields
// reasoning text. A pair whose label has only just arrived, with nothing
// after it yet, does not displace a lower pair that already yields
// reasoning, so growing the buffer never loses a detected split. When every
// occurring pair is still empty the first one is used.
func (ds DelimiterSet) split(buffer string) (SplitResult, phase) {
	var (
		fallback    SplitResult
		fallbackPh  = phaseUnstructured
		haveLabeled bool
	)
	for _, d := range ds {
		res, ph, ok := ds.splitPair(buffer, d)
		if !ok {
			continue
		}
		if res.Reasoning != "" {
			return res, ph
		}
		if !haveLabeled {
			fallback, fallbackPh, haveLabeled = res, ph, true
		}
	}
	if haveLabeled {
		return fallback, fallbackPh
	}
	return SplitResult{FinalAnswer: strings.TrimSpace(buffer)}, phaseUnstructured
}

func (ds DelimiterSet) splitPair(buffer string, d Delimiter) (SplitResult, phase, bool) {
	start := strings.Index(buffer, d.Reasoning)
	if start < 0 {
		return SplitResult{}, phaseUnstructured, false
	}
	body := start + len(d.Reasoning)

	end, after := ds.findAnswer(buffer, body, d.Answer)
	if end < 0 {
		return SplitResult{Reasoning: strings.TrimSpace(buffer[body:])}, phaseReasoningOpen, true
	}
	return SplitResult{
		Reasoning:   strings.TrimSpace(buffer[body:end]),
		FinalAnswer: strings.TrimSpace(buffer[after:]),
	}, phaseAnswerFound, true
}

// findAnswer locates the first occurrence of label at or after from. It
// returns the index where the reasoning span ends and the index where the
// answer text begins, or -1 when the label is absent. If a longer recognized
// answer label ends with label at that spot ("Final Answer:" around
// "Answer:"), the reasoning span is cut at the longer label instead.
func (ds DelimiterSet) findAnswer(buffer string, from int, label string) (int, int) {
	i := strings.Index(buffer[from:], label)
	if i < 0 {
		return -1, -1
	}
	at := from + i
	after := at + len(label)

	end := at
	for _, d := range ds {
		longer := d.Answer
		if len(longer) <= len(label) || !strings.HasSuffix(longer, label) {
			continue
		}
		s := after - len(longer)
		if s >= from && s < end && buffer[s:after] == longer {
			end = s
		}
	}
	return end, after
}

// Detect implements the live classification rule: any answer label means
// the answer is arriving, otherwise any reasoning label means reasoning is.
func (ds DelimiterSet) Detect(buffer string) Section {
	for _, d := range ds {
		if strings.Contains(buffer, d.Answer) {
			return SectionAnswer
		}
	}
	for _, d := range ds {
		if strings.Contains(buffer, d.Reasoning) {
			return SectionReasoning
		}
	}
	return SectionNone
}

// labels returns every distinct label in the set.
func (ds DelimiterSet) labels() []string {
	seen := make(map[string]bool, len(ds)*2)
	var out []string
	for _, d := range ds {
		for _, l := range []string{d.Reasoning, d.Answer} {
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	return out
}

// partialLabelStart returns the index where a trailing proper prefix of any
// label begins, or len(s) when s does not end inside a possible label.
func (ds DelimiterSet) partialLabelStart(s string) int {
	cut := len(s)
	for _, l := range ds.labels() {
		n := len(l) - 1
		if n > len(s) {
			n = len(s)
		}
		for ; n > 0; n-- {
			if strings.HasSuffix(s, l[:n]) {
				if len(s)-n < cut {
					cut = len(s) - n
				}
				break
			}
		}
	}
	return cut
}
