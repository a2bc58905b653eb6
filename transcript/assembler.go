// Package transcript turns a stream of commentary fragments into sentences
// grouped under topics.
package transcript

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// SilenceMarker is the fragment a backend returns for inaudible audio.
	SilenceMarker = "[SILENCE]"

	DefaultTopicTitle = "General Discussion"
)

// IsSilence reports whether fragment is the silence marker, ignoring case
// and surrounding whitespace.
func IsSilence(fragment string) bool {
	return strings.EqualFold(strings.TrimSpace(fragment), SilenceMarker)
}

type Topic struct {
	ID           string   `yaml:"id" json:"id"`
	Title        string   `yaml:"title" json:"title"`
	Commentaries []string `yaml:"commentaries" json:"commentaries"`
}

// Assembler holds the topic list and the live (unterminated) buffer of one
// capture session. It is not safe for concurrent use; the owner serializes
// access.
type Assembler struct {
	topics     []Topic
	live       string
	sentences  int
	onSentence func(topic, sentence string)
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// OnSentence registers fn to be called for every finalized sentence.
func (a *Assembler) OnSentence(fn func(topic, sentence string)) {
	a.onSentence = fn
}

// AddFragment appends fragment to the live buffer and moves every sentence
// it completes into the open topic. It returns the sentences finalized by
// this call.
func (a *Assembler) AddFragment(fragment string) []string {
	if fragment == "" || IsSilence(fragment) {
		return nil
	}
	a.live += fragment
	sentences, rest := SplitSentences(a.live)
	if len(sentences) == 0 {
		return nil
	}
	a.live = rest
	a.appendSentences(sentences)
	return sentences
}

// NewTopic flushes the live buffer, then opens a topic called title unless
// one with that title already exists. It reports whether a topic was created.
func (a *Assembler) NewTopic(title string) bool {
	a.Flush()
	title = strings.TrimSpace(title)
	if title == "" || a.hasTopic(title) {
		return false
	}
	a.topics = append(a.topics, Topic{ID: uuid.NewString(), Title: title})
	return true
}

// Flush treats the whole live buffer as complete, including an unterminated
// trailing segment. Flushing an empty buffer does nothing.
func (a *Assembler) Flush() []string {
	if strings.TrimSpace(a.live) == "" {
		a.live = ""
		return nil
	}
	sentences, rest := SplitSentences(a.live)
	if tail := strings.TrimSpace(rest); tail != "" {
		sentences = append(sentences, tail)
	}
	a.live = ""
	a.appendSentences(sentences)
	return sentences
}

func (a *Assembler) appendSentences(sentences []string) {
	if len(sentences) == 0 {
		return
	}
	if len(a.topics) == 0 {
		a.topics = append(a.topics, Topic{ID: uuid.NewString(), Title: DefaultTopicTitle})
	}
	open := &a.topics[len(a.topics)-1]
	open.Commentaries = append(open.Commentaries, sentences...)
	a.sentences += len(sentences)
	if a.onSentence != nil {
		for _, s := range sentences {
			a.onSentence(open.Title, s)
		}
	}
}

func (a *Assembler) hasTopic(title string) bool {
	for _, t := range a.topics {
		if t.Title == title {
			return true
		}
	}
	return false
}

// Topics returns a copy of the topic list; the last one is the open topic.
func (a *Assembler) Topics() []Topic {
	out := make([]Topic, len(a.topics))
	for i, t := range a.topics {
		out[i] = Topic{
			ID:           t.ID,
			Title:        t.Title,
			Commentaries: append([]string(nil), t.Commentaries...),
		}
	}
	return out
}

func (a *Assembler) Live() string { return a.live }

// Commentary returns every finalized sentence in emission order.
func (a *Assembler) Commentary() []string {
	out := make([]string, 0, a.sentences)
	for _, t := range a.topics {
		out = append(out, t.Commentaries...)
	}
	return out
}

func (a *Assembler) TopicTitles() []string {
	out := make([]string, len(a.topics))
	for i, t := range a.topics {
		out[i] = t.Title
	}
	return out
}

func (a *Assembler) SentenceCount() int { return a.sentences }

// Reset clears the session. The sentence hook is kept.
func (a *Assembler) Reset() {
	a.topics = nil
	a.live = ""
	a.sentences = 0
}
