// Package streaming turns partial JSON tool-call arguments into reasoning
// events the UI can render before the model finishes. The parser never fails
// on truncated input; a chunk that does not yet decode to anything meaningful
// simply yields nothing and the next chunk retries on the grown buffer.
package streaming

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ymlContentRE locates embedded yml_content string values, including ones
// whose closing quote has not arrived yet.
var ymlContentRE = regexp.MustCompile(`"yml_content"\s*:\s*"((?:[^"\\]|\\.)*?)(?:"|$)`)

// FileSnapshot is one streamed file inside a file reasoning event. TextChunk
// carries only the delta since the previous event for the same file id;
// consumers concatenate.
type FileSnapshot struct {
	ID            string `json:"id"`
	FileType      string `json:"file_type"`
	FileName      string `json:"file_name"`
	VersionNumber int    `json:"version_number"`
	Status        string `json:"status"`
	TextChunk     string `json:"text_chunk,omitempty"`
	Text          string `json:"text,omitempty"`
}

// ReasoningFile is a streaming "files" reasoning event.
type ReasoningFile struct {
	ID             string                  `json:"id"`
	Type           string                  `json:"type"`
	Title          string                  `json:"title"`
	SecondaryTitle string                  `json:"secondary_title"`
	Status         string                  `json:"status"`
	FileIDs        []string                `json:"file_ids"`
	Files          map[string]FileSnapshot `json:"files"`
}

// ReasoningText is a streaming text reasoning event (plan, tool description,
// final response draft).
type ReasoningText struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"`
	Title          string  `json:"title"`
	SecondaryTitle *string `json:"secondary_title,omitempty"`
	Message        string  `json:"message"`
	Status         string  `json:"status"`
}

// Parser accumulates tool-call argument fragments per tool call id. Two
// concurrent tool calls on one assistant turn are tracked independently.
type Parser struct {
	buffers map[string]*callState
}

type callState struct {
	buf strings.Builder
	// emitted tracks how much of each file's text has already been sent, so
	// TextChunk is always the suffix since the last event.
	emitted map[string]int
}

func NewParser() *Parser {
	return &Parser{buffers: make(map[string]*callState)}
}

func (p *Parser) state(toolCallID string) *callState {
	s, ok := p.buffers[toolCallID]
	if !ok {
		s = &callState{emitted: make(map[string]int)}
		p.buffers[toolCallID] = s
	}
	return s
}

// Append adds a raw argument delta to the accumulator for toolCallID.
func (p *Parser) Append(toolCallID, delta string) {
	p.state(toolCallID).buf.WriteString(delta)
}

// Reset drops the accumulator for toolCallID.
func (p *Parser) Reset(toolCallID string) {
	delete(p.buffers, toolCallID)
}

// DeterministicFileID derives a stable file id from the tool call id, file
// name, and file type so every streaming update addresses the same snapshot.
func DeterministicFileID(toolCallID, fileName, fileType string) uuid.UUID {
	sum := sha256.Sum256([]byte(toolCallID + ":" + fileName + ":" + fileType))
	var id uuid.UUID
	copy(id[:], sum[:16])
	return id
}

// ProcessFileChunk parses the accumulated buffer for a create/modify file
// tool and returns a file reasoning event when the buffer decodes to one.
// fileType is "metric" or "dashboard". Returns nil when nothing meaningful
// can be extracted yet.
func (p *Parser) ProcessFileChunk(toolCallID, fileType string) *ReasoningFile {
	s := p.state(toolCallID)
	raw := s.buf.String()

	// Pull out the yml_content values so their unbalanced quotes and braces
	// cannot confuse the structural completion below.
	var contents []string
	processed := ymlContentRE.ReplaceAllStringFunc(raw, func(m string) string {
		sub := ymlContentRE.FindStringSubmatch(m)
		i := len(contents)
		contents = append(contents, sub[1])
		return fmt.Sprintf(`"yml_content":"YML_CONTENT_%d"`, i)
	})

	processed = CompleteJSONStructure(processed)

	var value fileArgs
	if err := json.Unmarshal([]byte(processed), &value); err != nil {
		return nil
	}

	// Re-inject the captured text, decoding JSON string escapes.
	for i, file := range value.Files {
		if i < len(contents) {
			file["yml_content"] = decodeJSONString(contents[i])
		}
	}

	files := make(map[string]FileSnapshot)
	var fileIDs []string
	isUpdate := false
	for _, file := range value.Files {
		ymlContent, ok := file["yml_content"].(string)
		if !ok {
			continue
		}
		var fileID, fileName string
		if providedID, ok := file["id"].(string); ok && providedID != "" {
			// Modify operation: the real name is unknown while streaming,
			// show a placeholder derived from the id.
			isUpdate = true
			fileID = providedID
			prefix := providedID
			if len(prefix) > 8 {
				prefix = prefix[:8]
			}
			fileName = prefix + "..."
		} else if name, ok := file["name"].(string); ok && name != "" {
			fileID = DeterministicFileID(toolCallID, name, fileType).String()
			fileName = name
		} else {
			continue
		}

		prev := s.emitted[fileID]
		if prev > len(ymlContent) {
			prev = len(ymlContent)
		}
		chunk := ymlContent[prev:]
		s.emitted[fileID] = len(ymlContent)

		fileIDs = append(fileIDs, fileID)
		files[fileID] = FileSnapshot{
			ID:            fileID,
			FileType:      fileType,
			FileName:      fileName,
			VersionNumber: 1,
			Status:        "loading",
			TextChunk:     chunk,
		}
	}

	if len(files) == 0 {
		// Modification tools may stream nothing but the asset id; surface a
		// placeholder snapshot so the UI can show what is being modified.
		if id, ok := value.ID(); ok {
			prefix := id
			if len(prefix) > 8 {
				prefix = prefix[:8]
			}
			snap := FileSnapshot{
				ID:            id,
				FileType:      fileType,
				FileName:      prefix + "...",
				VersionNumber: 1,
				Status:        "loading",
			}
			return &ReasoningFile{
				ID:      toolCallID,
				Type:    "files",
				Title:   fmt.Sprintf("Modifying %s files...", fileType),
				Status:  "loading",
				FileIDs: []string{id},
				Files:   map[string]FileSnapshot{id: snap},
			}
		}
		return nil
	}
	title := fmt.Sprintf("Creating %s files...", fileType)
	if isUpdate {
		title = fmt.Sprintf("Modifying %s files...", fileType)
	}
	return &ReasoningFile{
		ID:      toolCallID,
		Type:    "files",
		Title:   title,
		Status:  "loading",
		FileIDs: fileIDs,
		Files:   files,
	}
}

// fileArgs is the streamed argument shape of the file tools.
type fileArgs struct {
	Files []map[string]any `json:"files"`
	RawID string           `json:"id"`
}

// ID returns the top-level asset id for id-only modification payloads.
func (a *fileArgs) ID() (string, bool) {
	return a.RawID, a.RawID != ""
}

// ProcessTextChunk extracts the current value of a free-text argument such as
// "plan", "text", or "final_response". Returns ok=false until the key decodes.
func (p *Parser) ProcessTextChunk(toolCallID, argumentKey string) (string, bool) {
	s := p.state(toolCallID)
	processed := CompleteJSONStructure(s.buf.String())

	var value map[string]any
	if err := json.Unmarshal([]byte(processed), &value); err != nil {
		return "", false
	}
	text, ok := value[argumentKey].(string)
	return text, ok
}

// CompleteJSONStructure closes an unterminated string literal and appends the
// matching braces/brackets in reverse order of opening, ignoring structural
// tokens inside strings and honoring escape characters.
func CompleteJSONStructure(in string) string {
	var b strings.Builder
	b.Grow(len(in) + 8)
	var stack []rune
	inString := false
	escaped := false

	for _, c := range in {
		b.WriteRune(c)
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}':
			if !inString && len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if !inString && len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		switch stack[i] {
		case '{':
			b.WriteByte('}')
		case '[':
			b.WriteByte(']')
		}
	}
	return b.String()
}

// decodeJSONString interprets escapes in a raw string-literal body. Falls
// back to the raw text when the body is not yet a valid escape sequence.
func decodeJSONString(raw string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &out); err != nil {
		return raw
	}
	return out
}
