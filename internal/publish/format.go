package publish

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/temirov/cfgsync/internal/diff"
)

const (
	titlePrefixConstant             = "chore: sync "
	titleFileSeparatorConstant      = ", "
	titleCountTemplateConstant      = "chore: sync %d config files"
	titleWithoutFilesConstant       = "chore: sync config files"
	titleMaximumListedFilesConstant = 3
	bodyTemplateNameConstant        = "pull_request_body"
	verbCreatedConstant             = "Created"
	verbUpdatedConstant             = "Updated"
	verbDeletedConstant             = "Deleted"
)

//go:embed templates/pull_request_body.md.tmpl
var defaultBodyTemplate string

// BodyChange is one listed file inside the body template.
type BodyChange struct {
	FileName string
	Verb     string
}

// BodyData is the value the body template is executed with.
type BodyData struct {
	Title   string
	Changes []BodyChange
}

// FormatTitle names up to three changed files, otherwise their count. Skipped files are ignored.
func FormatTitle(fileActions []diff.FileAction) string {
	changedFileNames := changedFileNames(fileActions)
	switch {
	case len(changedFileNames) == 0:
		return titleWithoutFilesConstant
	case len(changedFileNames) <= titleMaximumListedFilesConstant:
		return titlePrefixConstant + strings.Join(changedFileNames, titleFileSeparatorConstant)
	default:
		return fmt.Sprintf(titleCountTemplateConstant, len(changedFileNames))
	}
}

// FormatBody renders templateText, or the embedded default when templateText is empty or invalid.
func FormatBody(fileActions []diff.FileAction, templateText string) string {
	bodyData := BodyData{Title: FormatTitle(fileActions)}
	for _, fileAction := range fileActions {
		verb, listed := actionVerb(fileAction.Action)
		if !listed {
			continue
		}
		bodyData.Changes = append(bodyData.Changes, BodyChange{FileName: fileAction.FileName, Verb: verb})
	}

	if len(strings.TrimSpace(templateText)) > 0 {
		if renderedBody, renderError := renderBody(templateText, bodyData); renderError == nil {
			return renderedBody
		}
	}
	renderedBody, renderError := renderBody(defaultBodyTemplate, bodyData)
	if renderError != nil {
		return bodyData.Title
	}
	return renderedBody
}

func renderBody(templateText string, bodyData BodyData) (string, error) {
	parsedTemplate, parseError := template.New(bodyTemplateNameConstant).Option("missingkey=error").Parse(templateText)
	if parseError != nil {
		return "", parseError
	}
	var renderedBody bytes.Buffer
	if executeError := parsedTemplate.Execute(&renderedBody, bodyData); executeError != nil {
		return "", executeError
	}
	return renderedBody.String(), nil
}

func changedFileNames(fileActions []diff.FileAction) []string {
	fileNames := make([]string, 0, len(fileActions))
	for _, fileAction := range fileActions {
		if _, listed := actionVerb(fileAction.Action); listed {
			fileNames = append(fileNames, fileAction.FileName)
		}
	}
	return fileNames
}

func actionVerb(action diff.Action) (string, bool) {
	switch action {
	case diff.ActionCreate:
		return verbCreatedConstant, true
	case diff.ActionUpdate:
		return verbUpdatedConstant, true
	case diff.ActionDelete:
		return verbDeletedConstant, true
	default:
		return "", false
	}
}
