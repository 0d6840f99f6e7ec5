package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kanbeast/kanbeast/internal/convo"
)

// PromptLoader loads a role's system prompt from whatever backs the
// settings store. FilePromptLoader below is the
// one concrete implementation this module ships; anything else (a
// database-backed settings service) only needs to satisfy this interface.
type PromptLoader interface {
	Load(role convo.AgentRole) (string, error)
}

// FilePromptLoader reads "<Dir>/<role>.md" per role, refreshed on every
// call so edits to the prompt file take effect on the next reconstitution
// without a restart.
type FilePromptLoader struct {
	Dir string
}

// Load implements PromptLoader.
func (l FilePromptLoader) Load(role convo.AgentRole) (string, error) {
	name := strings.ToLower(string(role)) + ".md"
	raw, err := os.ReadFile(filepath.Join(l.Dir, name))
	if err != nil {
		return "", fmt.Errorf("orchestrator: load prompt %q: %w", name, err)
	}
	return string(raw), nil
}

// asConvoLoader adapts o.Prompts into the plain closure convo.PromptLoader
// and sfcm.New expect, logging (rather than propagating) a load failure: a
// missing prompt file degrades to an empty system prompt instead of
// aborting the conversation.
func (o *Orchestrator) asConvoLoader() convo.PromptLoader {
	return func(role convo.AgentRole) string {
		if o.Prompts == nil {
			return ""
		}
		text, err := o.Prompts.Load(role)
		if err != nil {
			o.Log.Warn("orchestrator: prompt load failed", "role", role, "error", err)
			return ""
		}
		return text
	}
}
