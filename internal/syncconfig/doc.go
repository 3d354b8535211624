// Package syncconfig loads sync definitions: which files to push to which repositories.
//
// Definitions are YAML, or JSON that may carry comments and trailing commas. The
// raw document is decoded with yaml.v3 (or jsonc for JSON) and then mapped onto
// typed structures with mapstructure, rejecting unknown keys. Load resolves every
// repository entry into one RepositorySpecification per remote with its effective
// file list and pull request options.
package syncconfig
