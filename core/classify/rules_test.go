package classify

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/adalundhe/scout/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func classifyWithRules(t *testing.T, name string, rules []model.FilterRule) *model.FileMetadata {
	t.Helper()
	file := writeFile(t, filepath.Join(t.TempDir(), "work", name), "content")
	e, _ := newTestEngine(t)
	m, err := e.Classify(context.Background(), file, snapshot(nil, rules))
	require.NoError(t, err)
	return m
}

func TestRules_FilenameKeywordTagsWithTagValue(t *testing.T) {
	t.Parallel()

	m := classifyWithRules(t, "Quarterly-DRAFT.docx", []model.FilterRule{{
		ID: 1, Name: "drafts", RuleType: model.RuleFilename, Pattern: "draft",
		PatternType: model.PatternKeyword, Action: model.ActionTag, Enabled: true,
		ExtraData: map[string]any{"tag_value": "wip"},
	}})

	assert.Equal(t, []string{"drafts"}, m.MatchedRules)
	assert.Contains(t, m.Tags, "drafts")
	assert.Contains(t, m.Tags, "wip")
}

func TestRules_DisabledRuleNeverEvaluated(t *testing.T) {
	t.Parallel()

	m := classifyWithRules(t, "draft.txt", []model.FilterRule{{
		ID: 1, Name: "drafts", RuleType: model.RuleFilename, Pattern: "draft",
		PatternType: model.PatternKeyword, Action: model.ActionExclude, Enabled: false,
	}})

	assert.Empty(t, m.MatchedRules)
	assert.False(t, m.Excluded())
}

func TestRules_ExcludeAnnotatesAndStopsTagging(t *testing.T) {
	t.Parallel()

	m := classifyWithRules(t, "cache.tmp", []model.FilterRule{
		{ID: 4, Name: "temp", RuleType: model.RuleExtension, Pattern: "tmp", PatternType: model.PatternKeyword, Action: model.ActionExclude, Enabled: true},
		{ID: 5, Name: "second-exclude", RuleType: model.RuleFilename, Pattern: "cache", PatternType: model.PatternKeyword, Action: model.ActionExclude, Enabled: true},
		{ID: 6, Name: "cachetag", RuleType: model.RuleFilename, Pattern: "cache", PatternType: model.PatternKeyword, Action: model.ActionTag, Enabled: true},
	})

	assert.True(t, m.Excluded())
	assert.Equal(t, "temp", m.ExcludedBy())
	assert.Equal(t, 4, m.ExtraMetadata[model.AnnotationExcludedByRuleID])
	assert.Equal(t, []string{"temp", "second-exclude", "cachetag"}, m.MatchedRules)
	assert.NotContains(t, m.Tags, "cachetag")
}

func TestRules_RegexAndCategoryOverride(t *testing.T) {
	t.Parallel()

	m := classifyWithRules(t, "INV-2024-001.pdf", []model.FilterRule{{
		ID: 2, Name: "invoices", RuleType: model.RuleFilename, Pattern: `^INV-\d{4}-\d+`,
		PatternType: model.PatternRegex, Action: model.ActionInclude, Enabled: true, CategoryID: intPtr(9),
	}})

	require.NotNil(t, m.CategoryID)
	assert.Equal(t, 9, *m.CategoryID)
	assert.Equal(t, []string{"invoices"}, m.MatchedRules)
}

func TestRules_ExtensionMapThenFallbackCategory(t *testing.T) {
	t.Parallel()

	m := classifyWithRules(t, "photo.PNG", nil)
	require.NotNil(t, m.CategoryID)
	assert.Equal(t, 1, *m.CategoryID)
	assert.Equal(t, "image", m.ExtraMetadata[model.AnnotationFileTypeFallback])
	assert.Equal(t, "png", m.ExtraMetadata[model.AnnotationExtension])
}

func TestRules_InvalidRegexIsIgnored(t *testing.T) {
	t.Parallel()

	m := classifyWithRules(t, "a.txt", []model.FilterRule{{
		ID: 3, Name: "broken", RuleType: model.RuleFilename, Pattern: `(`,
		PatternType: model.PatternRegex, Action: model.ActionExclude, Enabled: true,
	}})

	assert.False(t, m.Excluded())
}

func TestRules_OSBundleAlwaysExcludes(t *testing.T) {
	t.Parallel()

	m := classifyWithRules(t, "Library.logicx", []model.FilterRule{{
		ID: 11, Name: "logic projects", RuleType: model.RuleOSBundle, Pattern: `\.logicx$`,
		PatternType: model.PatternRegex, Action: model.ActionTag, Enabled: true,
	}})

	assert.True(t, m.IsOSBundle)
	assert.True(t, m.Excluded())
	assert.Equal(t, "logic projects", m.ExcludedBy())
}

func TestRules_FolderKeywordMatchesAncestor(t *testing.T) {
	t.Parallel()

	m := classifyWithRules(t, "notes.md", []model.FilterRule{{
		ID: 12, Name: "work folder", RuleType: model.RuleFolder, Pattern: "Work",
		PatternType: model.PatternKeyword, Action: model.ActionTag, Enabled: true,
	}})

	assert.Contains(t, m.Tags, "work folder")
}

func TestRules_StructureMarker(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "proj", "go.mod"), "module x")
	file := writeFile(t, filepath.Join(root, "proj", "main.go"), "package main")

	e, _ := newTestEngine(t)
	m, err := e.Classify(context.Background(), file, snapshot(nil, []model.FilterRule{{
		ID: 13, Name: "go project", RuleType: model.RuleStructure, Pattern: "go.mod",
		PatternType: model.PatternKeyword, Action: model.ActionTag, Enabled: true,
	}}))
	require.NoError(t, err)
	assert.Contains(t, m.Tags, "go project")
}

func TestRules_ScreenshotFallback(t *testing.T) {
	t.Parallel()

	m := classifyWithRules(t, "Screen Shot 2024-01-01.png", nil)
	assert.Contains(t, m.MatchedRules, "screenshot_fallback")
	assert.Contains(t, m.Tags, "screenshot")
	assert.Equal(t, true, m.ExtraMetadata[model.AnnotationScreenshot])
}

func TestRules_GlobFilename(t *testing.T) {
	t.Parallel()

	m := classifyWithRules(t, "backup-2024.zip", []model.FilterRule{{
		ID: 14, Name: "backups", RuleType: model.RuleFilename, Pattern: "backup-*.zip",
		PatternType: model.PatternGlob, Action: model.ActionExclude, Enabled: true,
	}})
	assert.True(t, m.Excluded())
}
