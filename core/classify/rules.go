package classify

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/adalundhe/scout/core/model"
	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultPatternCacheSize = 512
	maxStructureEntries     = 256
	screenshotFallbackRule  = "screenshot_fallback"
	screenshotTag           = "screenshot"
)

// fallbackCategories is used when the extension map has no entry.
var fallbackCategories = map[string]struct {
	id   int
	name string
}{
	"jpg": {1, "image"}, "jpeg": {1, "image"}, "png": {1, "image"}, "gif": {1, "image"}, "bmp": {1, "image"}, "webp": {1, "image"},
	"doc": {2, "document"}, "docx": {2, "document"}, "pdf": {2, "document"}, "txt": {2, "document"}, "md": {2, "document"}, "rtf": {2, "document"},
	"mp3": {3, "media"}, "wav": {3, "media"}, "flac": {3, "media"}, "ogg": {3, "media"}, "mp4": {3, "media"}, "mov": {3, "media"},
	"zip": {4, "archive"}, "rar": {4, "archive"}, "7z": {4, "archive"}, "gz": {4, "archive"}, "tar": {4, "archive"},
	"exe": {5, "executable"}, "dmg": {5, "executable"}, "app": {5, "executable"}, "msi": {5, "executable"},
	"js": {6, "code"}, "ts": {6, "code"}, "py": {6, "code"}, "rs": {6, "code"}, "go": {6, "code"},
	"java": {6, "code"}, "c": {6, "code"}, "cpp": {6, "code"}, "h": {6, "code"},
}

// ruleEngine evaluates FilterRules against a metadata record. Compiled
// patterns are cached across calls.
type ruleEngine struct {
	regexes *lru.Cache[string, *regexp.Regexp]
	globs   *lru.Cache[string, glob.Glob]
	logger  *slog.Logger
}

func newRuleEngine(cacheSize int, logger *slog.Logger) (*ruleEngine, error) {
	if cacheSize <= 0 {
		cacheSize = defaultPatternCacheSize
	}
	regexes, err := lru.New[string, *regexp.Regexp](cacheSize)
	if err != nil {
		return nil, err
	}
	globs, err := lru.New[string, glob.Glob](cacheSize)
	if err != nil {
		return nil, err
	}
	return &ruleEngine{regexes: regexes, globs: globs, logger: logger}, nil
}

// apply runs extension mapping, every enabled rule and the screenshot
// fallback over m.
func (r *ruleEngine) apply(m *model.FileMetadata, snap *model.Configuration) {
	if m.Extension != "" {
		applyExtensionCategory(m, snap)
	}

	excluded := m.Excluded()
	for _, rule := range snap.EnabledRules() {
		if !r.matches(rule, m) {
			continue
		}

		m.MatchedRules = append(m.MatchedRules, rule.Name)

		if rule.RuleType == model.RuleOSBundle {
			m.IsOSBundle = true
			if !excluded {
				m.MarkExcluded(rule.ID, rule.Name)
				excluded = true
			}
		}

		switch rule.Action {
		case model.ActionTag:
			if !excluded {
				applyTags(m, rule)
			}
		case model.ActionExclude:
			if !excluded {
				m.MarkExcluded(rule.ID, rule.Name)
				excluded = true
			}
		case model.ActionInclude:
		}

		if rule.CategoryID != nil {
			m.SetCategory(*rule.CategoryID)
		}
	}

	if !excluded {
		applyScreenshotFallback(m)
	}
}

func applyExtensionCategory(m *model.FileMetadata, snap *model.Configuration) {
	if em, ok := snap.LookupExtension(m.Extension); ok {
		m.SetCategory(em.CategoryID)
		name := "unknown_category_id"
		if cat, ok := snap.Category(em.CategoryID); ok {
			name = cat.Name
		}
		m.Annotate(model.AnnotationFileTypeFromMap, name)
	} else if fb, ok := fallbackCategories[m.Extension]; ok {
		m.SetCategory(fb.id)
		m.Annotate(model.AnnotationFileTypeFallback, fb.name)
	}

	m.AddTag("ext:" + m.Extension)
	m.Annotate(model.AnnotationExtension, m.Extension)
}

func applyTags(m *model.FileMetadata, rule model.FilterRule) {
	m.AddTag(rule.Name)
	if tag, ok := rule.TagValue(); ok {
		m.AddTag(tag)
	}
}

func applyScreenshotFallback(m *model.FileMetadata) {
	name := strings.ToLower(m.FileName)
	if !strings.Contains(name, "screenshot") && !strings.Contains(name, "screen shot") &&
		!strings.Contains(name, "截图") && !strings.HasPrefix(name, "截屏") {
		return
	}
	for _, matched := range m.MatchedRules {
		if strings.Contains(strings.ToLower(matched), "screenshot") {
			return
		}
	}
	m.MatchedRules = append(m.MatchedRules, screenshotFallbackRule)
	m.AddTag(screenshotTag)
	m.Annotate(model.AnnotationScreenshot, true)
}

// =============================================================================
// Matching
// =============================================================================

func (r *ruleEngine) matches(rule model.FilterRule, m *model.FileMetadata) bool {
	if rule.Pattern == "" {
		return false
	}
	switch rule.RuleType {
	case model.RuleFilename, model.RuleOSBundle:
		return r.matchFilename(rule, m.FileName)
	case model.RuleExtension:
		return m.Extension != "" && r.matchExtension(rule, m.Extension)
	case model.RuleFolder:
		return r.matchFolder(rule, m.FilePath)
	case model.RuleStructure:
		return r.matchStructure(rule, m)
	}
	return false
}

func (r *ruleEngine) matchFilename(rule model.FilterRule, name string) bool {
	switch rule.PatternType {
	case model.PatternRegex:
		return r.matchRegex(rule.Pattern, name)
	case model.PatternGlob:
		return r.matchGlob(strings.ToLower(rule.Pattern), strings.ToLower(name))
	default:
		return strings.Contains(strings.ToLower(name), strings.ToLower(rule.Pattern))
	}
}

func (r *ruleEngine) matchExtension(rule model.FilterRule, ext string) bool {
	switch rule.PatternType {
	case model.PatternRegex:
		return r.matchRegex(rule.Pattern, ext)
	case model.PatternGlob:
		return r.matchGlob(model.NormalizeExtension(rule.Pattern), ext)
	default:
		return ext == model.NormalizeExtension(rule.Pattern)
	}
}

// matchFolder tests the record's ancestor directories.
func (r *ruleEngine) matchFolder(rule model.FilterRule, path string) bool {
	dir := filepath.Dir(path)
	switch rule.PatternType {
	case model.PatternRegex:
		return r.matchRegex(rule.Pattern, filepath.ToSlash(dir))
	case model.PatternGlob:
		return r.matchGlob(rule.Pattern, filepath.ToSlash(dir))
	default:
		for _, seg := range segments(dir) {
			if strings.EqualFold(seg, rule.Pattern) {
				return true
			}
		}
		return false
	}
}

// matchStructure looks for a marker entry next to a file or inside a
// directory, e.g. a .git folder or a package.json.
func (r *ruleEngine) matchStructure(rule model.FilterRule, m *model.FileMetadata) bool {
	base := filepath.Dir(m.FilePath)
	if m.IsDir {
		base = m.FilePath
	}

	if rule.PatternType != model.PatternRegex && rule.PatternType != model.PatternGlob {
		_, err := os.Lstat(filepath.Join(base, rule.Pattern))
		return err == nil
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return false
	}
	if len(entries) > maxStructureEntries {
		entries = entries[:maxStructureEntries]
	}
	for _, entry := range entries {
		if rule.PatternType == model.PatternRegex && r.matchRegex(rule.Pattern, entry.Name()) {
			return true
		}
		if rule.PatternType == model.PatternGlob && r.matchGlob(rule.Pattern, entry.Name()) {
			return true
		}
	}
	return false
}

func (r *ruleEngine) matchRegex(pattern, subject string) bool {
	re, ok := r.regexes.Get(pattern)
	if !ok {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			r.logger.Debug("skipping invalid rule regex",
				slog.String("pattern", pattern),
				slog.String("error", err.Error()))
			return false
		}
		r.regexes.Add(pattern, compiled)
		re = compiled
	}
	return re.MatchString(subject)
}

func (r *ruleEngine) matchGlob(pattern, subject string) bool {
	g, ok := r.globs.Get(pattern)
	if !ok {
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			r.logger.Debug("skipping invalid rule glob",
				slog.String("pattern", pattern),
				slog.String("error", err.Error()))
			return false
		}
		r.globs.Add(pattern, compiled)
		g = compiled
	}
	return g.Match(subject)
}
