package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FileCategory is a remote category that classified files are assigned to.
type FileCategory struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// ExtensionMap assigns a category to a lowercase, dotless extension.
type ExtensionMap struct {
	ID          int    `json:"id"`
	Extension   string `json:"extension"`
	CategoryID  int    `json:"category_id"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// =============================================================================
// RuleType
// =============================================================================

// RuleType selects which property of a path a FilterRule inspects.
type RuleType int

const (
	RuleExtension RuleType = iota
	RuleFilename
	RuleFolder
	RuleStructure
	RuleOSBundle
)

var ruleTypeNames = map[RuleType]string{
	RuleExtension: "extension",
	RuleFilename:  "filename",
	RuleFolder:    "folder",
	RuleStructure: "structure",
	RuleOSBundle:  "os_bundle",
}

func (t RuleType) String() string {
	if name, ok := ruleTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON encodes the rule type as its wire name.
func (t RuleType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts wire names in any case, with or without underscores.
func (t *RuleType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	normalized := strings.ReplaceAll(strings.ToLower(raw), "_", "")
	for rt, name := range ruleTypeNames {
		if strings.ReplaceAll(name, "_", "") == normalized {
			*t = rt
			return nil
		}
	}
	return fmt.Errorf("unknown rule type %q", raw)
}

// =============================================================================
// RuleAction
// =============================================================================

// RuleAction is what happens when a FilterRule matches.
type RuleAction int

const (
	// ActionInclude is a no-op placeholder for override semantics.
	ActionInclude RuleAction = iota

	// ActionExclude annotates the record so the batch stage drops it.
	ActionExclude

	// ActionTag appends the rule's tags to the record.
	ActionTag
)

var ruleActionNames = map[RuleAction]string{
	ActionInclude: "include",
	ActionExclude: "exclude",
	ActionTag:     "tag",
}

func (a RuleAction) String() string {
	if name, ok := ruleActionNames[a]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON encodes the action as its wire name.
func (a RuleAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts any casing of the wire name.
func (a *RuleAction) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for action, name := range ruleActionNames {
		if strings.EqualFold(raw, name) {
			*a = action
			return nil
		}
	}
	return fmt.Errorf("unknown rule action %q", raw)
}

// Pattern types understood by the rule engine.
const (
	PatternKeyword = "keyword"
	PatternRegex   = "regex"
	PatternGlob    = "glob"
)

// FilterRule is one remotely configured classification rule.
type FilterRule struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	RuleType    RuleType       `json:"rule_type"`
	CategoryID  *int           `json:"category_id,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Action      RuleAction     `json:"action"`
	Enabled     bool           `json:"enabled"`
	IsSystem    bool           `json:"is_system"`
	Pattern     string         `json:"pattern"`
	PatternType string         `json:"pattern_type"`
	ExtraData   map[string]any `json:"extra_data,omitempty"`
}

// TagValue returns the extra tag carried in extra_data, if any.
func (r FilterRule) TagValue() (string, bool) {
	v, ok := r.ExtraData["tag_value"].(string)
	return v, ok && v != ""
}
