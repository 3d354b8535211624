// Package azuredevops opens and completes Azure DevOps pull requests through the az CLI.
package azuredevops
