package compaction

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/guppy/internal/message"
)

// fileSets accumulates the paths touched by read/write/edit tool calls
// across the messages being summarized away.
type fileSets struct {
	read     map[string]bool
	modified map[string]bool
}

func newFileSets() *fileSets {
	return &fileSets{read: map[string]bool{}, modified: map[string]bool{}}
}

// seedFromSummary pre-populates the sets from a previous summary's
// <read-files>/<modified-files> blocks, so file history survives across
// multiple compaction passes.
func (fs *fileSets) seedFromSummary(summary string) {
	for _, p := range parseFileListBlock(summary, "read-files") {
		fs.read[p] = true
	}
	for _, p := range parseFileListBlock(summary, "modified-files") {
		fs.modified[p] = true
	}
}

// walk records read/write/edit tool-call path arguments found in msgs'
// assistant tool-call blocks.
func (fs *fileSets) walk(msgs []message.AgentMessage) {
	for _, m := range msgs {
		a, ok := m.(message.Assistant)
		if !ok {
			continue
		}
		for _, b := range a.Content {
			if b.Type != message.BlockToolCall {
				continue
			}
			path, ok := toolCallPath(b.Arguments)
			if !ok {
				continue
			}
			switch b.ToolName {
			case "read":
				fs.read[path] = true
			case "write", "edit":
				fs.modified[path] = true
			}
		}
	}
}

// readOnly returns paths that were read but never later modified, sorted.
func (fs *fileSets) readOnly() []string {
	out := make([]string, 0, len(fs.read))
	for p := range fs.read {
		if !fs.modified[p] {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// modifiedList returns the union of write/edit paths, sorted.
func (fs *fileSets) modifiedList() []string {
	out := make([]string, 0, len(fs.modified))
	for p := range fs.modified {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func toolCallPath(args json.RawMessage) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	var v struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &v); err != nil || v.Path == "" {
		return "", false
	}
	return v.Path, true
}

var fileListBlockRe = regexp.MustCompile(`(?s)<(read-files|modified-files)>(.*?)</(?:read-files|modified-files)>`)

// parseFileListBlock extracts one-path-per-line entries from a named XML-
// style block inside a previously generated summary.
func parseFileListBlock(summary, tag string) []string {
	for _, m := range fileListBlockRe.FindAllStringSubmatch(summary, -1) {
		if m[1] != tag {
			continue
		}
		var out []string
		for _, line := range strings.Split(m[2], "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				out = append(out, line)
			}
		}
		return out
	}
	return nil
}

// renderFileListBlock formats paths (already sorted) into a <tag> block,
// or the empty string if paths is empty.
func renderFileListBlock(tag string, paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(tag)
	b.WriteString(">\n")
	for _, p := range paths {
		b.WriteString(p)
		b.WriteString("\n")
	}
	b.WriteString("</")
	b.WriteString(tag)
	b.WriteString(">")
	return b.String()
}
