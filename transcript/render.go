package transcript

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Markdown renders topics as headed bullet lists. A non-empty live buffer is
// appended in italics.
func Markdown(topics []Topic, live string) string {
	var b strings.Builder
	for i, t := range topics {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n\n", t.Title)
		for _, c := range t.Commentaries {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if live = strings.TrimSpace(live); live != "" {
		if len(topics) > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "_%s_\n", live)
	}
	return b.String()
}

type document struct {
	Captured time.Time `yaml:"captured"`
	Source   string    `yaml:"source,omitempty"`
	Topics   []Topic   `yaml:"topics"`
}

// YAML renders topics as a YAML document stamped with the capture time.
func YAML(topics []Topic, source string, captured time.Time) ([]byte, error) {
	if topics == nil {
		topics = []Topic{}
	}
	return yaml.Marshal(document{Captured: captured.UTC(), Source: source, Topics: topics})
}

// Render picks a renderer from a file name or format name.
func Render(format string, topics []Topic, live, source string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml", ".yaml", ".yml":
		return YAML(topics, source, time.Now())
	case "md", "markdown", ".md", "":
		return []byte(Markdown(topics, live)), nil
	}
	return nil, fmt.Errorf("unknown transcript format %q", format)
}
