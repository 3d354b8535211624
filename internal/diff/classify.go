package diff

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	previewFromFileTemplateConstant = "a/%s"
	previewToFileTemplateConstant   = "b/%s"
	previewAbsentFileConstant       = "/dev/null"
	previewContextLinesConstant     = 3
)

// Content is file bytes paired with whether the file exists at all.
type Content struct {
	Bytes   []byte
	Present bool
}

// PresentContent wraps bytes of an existing or intended file.
func PresentContent(data []byte) Content {
	return Content{Bytes: data, Present: true}
}

// AbsentContent describes a file that does not exist or must not exist.
func AbsentContent() Content {
	return Content{}
}

// Classification describes how a candidate relates to what is on disk.
type Classification string

// Supported classifications.
const (
	ClassificationNew       Classification = Classification("new")
	ClassificationModified  Classification = Classification("modified")
	ClassificationUnchanged Classification = Classification("unchanged")
	ClassificationDeleted   Classification = Classification("deleted")
)

// Changes reports whether applying the candidate alters the working tree.
func (classification Classification) Changes() bool {
	return classification != ClassificationUnchanged
}

// Classify compares existing content with the candidate. Two absent sides are unchanged.
func Classify(existing Content, candidate Content) Classification {
	switch {
	case !existing.Present && !candidate.Present:
		return ClassificationUnchanged
	case !existing.Present:
		return ClassificationNew
	case !candidate.Present:
		return ClassificationDeleted
	case bytes.Equal(existing.Bytes, candidate.Bytes):
		return ClassificationUnchanged
	default:
		return ClassificationModified
	}
}

// Action is the per-file verb reported in titles and request bodies.
type Action string

// Supported actions.
const (
	ActionCreate Action = Action("create")
	ActionUpdate Action = Action("update")
	ActionDelete Action = Action("delete")
	ActionSkip   Action = Action("skip")
)

// FileAction pairs a file name with the action taken on it.
type FileAction struct {
	FileName string
	Action   Action
}

// ActionFor maps a classification to the action reported for it.
func ActionFor(classification Classification) Action {
	switch classification {
	case ClassificationNew:
		return ActionCreate
	case ClassificationModified:
		return ActionUpdate
	case ClassificationDeleted:
		return ActionDelete
	default:
		return ActionSkip
	}
}

// Preview renders a unified diff between existing and candidate content.
// It returns an empty string when the classification is unchanged.
func Preview(fileName string, existing Content, candidate Content) (string, error) {
	if !Classify(existing, candidate).Changes() {
		return "", nil
	}
	fromFile := fmt.Sprintf(previewFromFileTemplateConstant, fileName)
	if !existing.Present {
		fromFile = previewAbsentFileConstant
	}
	toFile := fmt.Sprintf(previewToFileTemplateConstant, fileName)
	if !candidate.Present {
		toFile = previewAbsentFileConstant
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitPreviewLines(existing),
		B:        splitPreviewLines(candidate),
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  previewContextLinesConstant,
	})
}

func splitPreviewLines(content Content) []string {
	if !content.Present || len(content.Bytes) == 0 {
		return nil
	}
	return difflib.SplitLines(strings.TrimSuffix(string(content.Bytes), "\n"))
}
