// Package githubcli opens and merges GitHub pull requests through the gh CLI.
//
// Every command is assembled with execshell.CommandLine so branch names, titles,
// and bodies reach gh as single escaped arguments. The Client satisfies
// publish.HostTransport.
package githubcli
