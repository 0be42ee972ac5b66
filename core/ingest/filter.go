package ingest

import (
	"github.com/adalundhe/scout/core/classify"
	"github.com/adalundhe/scout/core/model"
)

// DropReason explains why the pipeline refused a record.
type DropReason int

const (
	DropHidden DropReason = iota
	DropBundle
	DropExcluded
	DropDirectory
	DropSystemArtifact
	DropExtension
	numDropReasons
)

var dropReasonNames = [numDropReasons]string{
	DropHidden:         "hidden",
	DropBundle:         "bundle",
	DropExcluded:       "excluded",
	DropDirectory:      "directory",
	DropSystemArtifact: "system_artifact",
	DropExtension:      "extension",
}

// String returns the metric label for the reason.
func (r DropReason) String() string {
	if r < 0 || r >= numDropReasons {
		return "unknown"
	}
	return dropReasonNames[r]
}

// AllDropReasons lists every reason in declaration order.
func AllDropReasons() []DropReason {
	out := make([]DropReason, 0, numDropReasons)
	for r := DropReason(0); r < numDropReasons; r++ {
		out = append(out, r)
	}
	return out
}

// Admit runs the delivery-side filter over a record. Records normally
// arrive pre-classified, but some reach the pipeline through shortcuts, so
// every check is repeated here without touching the disk.
func Admit(m *model.FileMetadata, snap *model.Configuration, bundles []string) (DropReason, bool) {
	switch {
	case m.IsHidden || classify.IsHidden(m.FilePath):
		return DropHidden, false
	case m.IsOSBundle || classify.IsBundlePath(m.FilePath, false, bundles) || classify.IsInsideBundle(m.FilePath, bundles):
		return DropBundle, false
	case m.Excluded():
		return DropExcluded, false
	case m.IsDir:
		return DropDirectory, false
	case classify.IsSystemArtifact(m.FileName):
		return DropSystemArtifact, false
	}

	ext := model.NormalizeExtension(m.Extension)
	if ext == "" {
		return DropExtension, false
	}
	if snap != nil && !snap.ExtensionAllowed(ext) {
		return DropExtension, false
	}
	return 0, true
}
