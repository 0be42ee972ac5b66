package model

// Annotation keys written into FileMetadata.ExtraMetadata.
const (
	AnnotationExcludedByRuleID   = "excluded_by_rule_id"
	AnnotationExcludedByRuleName = "excluded_by_rule_name"
	AnnotationFileTypeFromMap    = "file_type_from_ext_map"
	AnnotationFileTypeFallback   = "file_type_fallback"
	AnnotationExtension          = "extension"
	AnnotationScreenshot         = "is_screenshot_fallback"
)

// ExcludedHiddenRuleName is recorded when a hidden path is annotated as excluded.
const ExcludedHiddenRuleName = "hidden_file"

// FileMetadata is the record delivered to the screening service for one
// observed path. It is built by the classifier and not modified afterwards.
type FileMetadata struct {
	FilePath      string         `json:"file_path"`
	FileName      string         `json:"file_name"`
	Extension     string         `json:"extension,omitempty"`
	FileSize      int64          `json:"file_size"`
	CreatedTime   int64          `json:"created_time"`
	ModifiedTime  int64          `json:"modified_time"`
	IsDir         bool           `json:"is_dir"`
	IsHidden      bool           `json:"is_hidden"`
	FileHash      string         `json:"file_hash,omitempty"`
	CategoryID    *int           `json:"category_id,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	MatchedRules  []string       `json:"matched_rules,omitempty"`
	ExtraMetadata map[string]any `json:"extra_metadata,omitempty"`
	IsOSBundle    bool           `json:"is_os_bundle"`
}

// Excluded reports whether a rule marked the record for exclusion.
func (m *FileMetadata) Excluded() bool {
	_, ok := m.ExtraMetadata[AnnotationExcludedByRuleID]
	return ok
}

// ExcludedBy returns the name of the excluding rule, if any.
func (m *FileMetadata) ExcludedBy() string {
	name, _ := m.ExtraMetadata[AnnotationExcludedByRuleName].(string)
	return name
}

// Annotate sets an extra-metadata key.
func (m *FileMetadata) Annotate(key string, value any) {
	if m.ExtraMetadata == nil {
		m.ExtraMetadata = make(map[string]any)
	}
	m.ExtraMetadata[key] = value
}

// MarkExcluded records the rule that excluded the record.
func (m *FileMetadata) MarkExcluded(ruleID int, ruleName string) {
	m.Annotate(AnnotationExcludedByRuleID, ruleID)
	m.Annotate(AnnotationExcludedByRuleName, ruleName)
}

// AddTag appends tag unless it is already present.
func (m *FileMetadata) AddTag(tag string) {
	if tag == "" || m.HasTag(tag) {
		return
	}
	m.Tags = append(m.Tags, tag)
}

// HasTag reports whether tag is present.
func (m *FileMetadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SetCategory assigns the category id.
func (m *FileMetadata) SetCategory(id int) {
	m.CategoryID = &id
}
