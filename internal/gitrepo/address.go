package gitrepo

import (
	"fmt"
	"strings"
)

const (
	sshProtocolPrefixConstant            = "ssh://"
	httpsProtocolPrefixConstant          = "https://"
	gitUserPrefixConstant                = "git@"
	userInfoDelimiterConstant            = "@"
	sshPathDelimiterConstant             = ":"
	pathSeparatorConstant                = "/"
	gitSuffixConstant                    = ".git"
	gitHubHostConstant                   = "github.com"
	azureDevOpsHostConstant              = "dev.azure.com"
	azureDevOpsSSHHostConstant           = "ssh.dev.azure.com"
	azureDevOpsSSHVersionSegmentConstant = "v3"
	azureDevOpsGitSegmentConstant        = "_git"
	visualStudioHostSuffixConstant       = ".visualstudio.com"
	supportedPrefixesSeparatorConstant   = ", "
	unrecognizedAddressTemplateConstant  = "unrecognized repository address %q: supported prefixes are %s"
	malformedAddressTemplateConstant     = "malformed %s repository address %q: %s"
	unsupportedProtocolTemplateConstant  = "unsupported remote protocol %q"
	unsupportedAddressTemplateConstant   = "unsupported repository address type %T"
	expectedOwnerRepositoryMessage       = "expected owner/repository"
	expectedAzurePathMessage             = "expected organization/project/repository"
	emptyRepositoryNameMessage           = "repository name is empty"
	gitHubDisplayTemplateConstant        = "%s/%s"
	azureDevOpsDisplayTemplateConstant   = "%s/%s/%s"
	gitHubSSHTemplateConstant            = "git@github.com:%s/%s.git"
	gitHubHTTPSTemplateConstant          = "https://github.com/%s/%s.git"
	azureDevOpsSSHTemplateConstant       = "git@ssh.dev.azure.com:v3/%s/%s/%s"
	azureDevOpsHTTPSTemplateConstant     = "https://dev.azure.com/%s/%s/_git/%s"
	azureDevOpsOrganizationURLTemplate   = "https://dev.azure.com/%s"
)

// supportedAddressPrefixes lists the remote URL families ParseRepositoryAddress accepts.
var supportedAddressPrefixes = []string{
	"git@github.com:",
	"ssh://git@github.com/",
	"https://github.com/",
	"git@ssh.dev.azure.com:v3/",
	"ssh://git@ssh.dev.azure.com/v3/",
	"https://dev.azure.com/",
	"https://<organization>.visualstudio.com/",
}

// RemoteProtocol enumerates supported git remote protocols.
type RemoteProtocol string

// Supported remote protocols.
const (
	RemoteProtocolSSH   RemoteProtocol = RemoteProtocol("ssh")
	RemoteProtocolHTTPS RemoteProtocol = RemoteProtocol("https")
)

// HostKind identifies the hosting service behind a repository address.
type HostKind string

// Supported hosting services.
const (
	HostKindGitHub      HostKind = HostKind("github")
	HostKindAzureDevOps HostKind = HostKind("azure-devops")
)

// RepositoryAddress is implemented only by GitHubAddress and AzureDevOpsAddress.
// Consumers switch on the concrete type and treat any other value as unsupported.
type RepositoryAddress interface {
	HostKind() HostKind
	RemoteURL() string
	RepositoryName() string
	DisplayName() string
	sealedRepositoryAddress()
}

// GitHubAddress identifies a repository as owner/repository on github.com.
type GitHubAddress struct {
	Remote     string
	Protocol   RemoteProtocol
	Owner      string
	Repository string
}

// HostKind returns HostKindGitHub.
func (GitHubAddress) HostKind() HostKind { return HostKindGitHub }

// RemoteURL returns the remote as supplied by the caller.
func (address GitHubAddress) RemoteURL() string { return address.Remote }

// RepositoryName returns the repository name without a .git suffix.
func (address GitHubAddress) RepositoryName() string { return address.Repository }

// DisplayName renders owner/repository.
func (address GitHubAddress) DisplayName() string {
	return fmt.Sprintf(gitHubDisplayTemplateConstant, address.Owner, address.Repository)
}

func (GitHubAddress) sealedRepositoryAddress() {}

// AzureDevOpsAddress identifies a repository as organization/project/repository on Azure DevOps.
type AzureDevOpsAddress struct {
	Remote       string
	Protocol     RemoteProtocol
	Organization string
	Project      string
	Repository   string
}

// HostKind returns HostKindAzureDevOps.
func (AzureDevOpsAddress) HostKind() HostKind { return HostKindAzureDevOps }

// RemoteURL returns the remote as supplied by the caller.
func (address AzureDevOpsAddress) RemoteURL() string { return address.Remote }

// RepositoryName returns the repository name without a .git suffix.
func (address AzureDevOpsAddress) RepositoryName() string { return address.Repository }

// DisplayName renders organization/project/repository.
func (address AzureDevOpsAddress) DisplayName() string {
	return fmt.Sprintf(azureDevOpsDisplayTemplateConstant, address.Organization, address.Project, address.Repository)
}

// OrganizationURL returns the organization endpoint used by the az CLI.
func (address AzureDevOpsAddress) OrganizationURL() string {
	return fmt.Sprintf(azureDevOpsOrganizationURLTemplate, address.Organization)
}

func (AzureDevOpsAddress) sealedRepositoryAddress() {}

// UnrecognizedAddressError reports a remote that matches no supported URL family.
type UnrecognizedAddressError struct {
	Input string
}

// Error names the supported prefixes.
func (addressError UnrecognizedAddressError) Error() string {
	return fmt.Sprintf(unrecognizedAddressTemplateConstant, addressError.Input, strings.Join(supportedAddressPrefixes, supportedPrefixesSeparatorConstant))
}

// MalformedAddressError reports a remote whose host was recognized but whose path is incomplete.
type MalformedAddressError struct {
	Input    string
	HostKind HostKind
	Reason   string
}

// Error describes the malformed address.
func (addressError MalformedAddressError) Error() string {
	return fmt.Sprintf(malformedAddressTemplateConstant, addressError.HostKind, addressError.Input, addressError.Reason)
}

// UnsupportedProtocolError indicates the provided protocol cannot be formatted.
type UnsupportedProtocolError struct {
	Protocol RemoteProtocol
}

// Error describes the unsupported protocol.
func (protocolError UnsupportedProtocolError) Error() string {
	return fmt.Sprintf(unsupportedProtocolTemplateConstant, protocolError.Protocol)
}

// UnsupportedAddressError reports a RepositoryAddress implementation outside the supported set.
type UnsupportedAddressError struct {
	Address RepositoryAddress
}

// Error describes the unsupported address type.
func (addressError UnsupportedAddressError) Error() string {
	return fmt.Sprintf(unsupportedAddressTemplateConstant, addressError.Address)
}

// ParseRepositoryAddress converts a remote URL into a GitHubAddress or AzureDevOpsAddress.
func ParseRepositoryAddress(remote string) (RepositoryAddress, error) {
	trimmedRemote := strings.TrimSpace(remote)
	if len(trimmedRemote) == 0 {
		return nil, UnrecognizedAddressError{Input: remote}
	}

	protocol, host, path, split := splitRemote(trimmedRemote)
	if !split {
		return nil, UnrecognizedAddressError{Input: remote}
	}

	switch {
	case host == gitHubHostConstant:
		return parseGitHubPath(trimmedRemote, protocol, path)
	case host == azureDevOpsSSHHostConstant && protocol == RemoteProtocolSSH:
		return parseAzureDevOpsSSHPath(trimmedRemote, path)
	case host == azureDevOpsHostConstant && protocol == RemoteProtocolHTTPS:
		return parseAzureDevOpsHTTPSPath(trimmedRemote, "", path)
	case strings.HasSuffix(host, visualStudioHostSuffixConstant) && protocol == RemoteProtocolHTTPS:
		organization := strings.TrimSuffix(host, visualStudioHostSuffixConstant)
		return parseAzureDevOpsHTTPSPath(trimmedRemote, organization, path)
	default:
		return nil, UnrecognizedAddressError{Input: remote}
	}
}

// FormatRemoteURL renders the canonical remote URL for the address and protocol.
func FormatRemoteURL(address RepositoryAddress, protocol RemoteProtocol) (string, error) {
	switch typedAddress := address.(type) {
	case GitHubAddress:
		switch protocol {
		case RemoteProtocolSSH:
			return fmt.Sprintf(gitHubSSHTemplateConstant, typedAddress.Owner, typedAddress.Repository), nil
		case RemoteProtocolHTTPS:
			return fmt.Sprintf(gitHubHTTPSTemplateConstant, typedAddress.Owner, typedAddress.Repository), nil
		default:
			return "", UnsupportedProtocolError{Protocol: protocol}
		}
	case AzureDevOpsAddress:
		switch protocol {
		case RemoteProtocolSSH:
			return fmt.Sprintf(azureDevOpsSSHTemplateConstant, typedAddress.Organization, typedAddress.Project, typedAddress.Repository), nil
		case RemoteProtocolHTTPS:
			return fmt.Sprintf(azureDevOpsHTTPSTemplateConstant, typedAddress.Organization, typedAddress.Project, typedAddress.Repository), nil
		default:
			return "", UnsupportedProtocolError{Protocol: protocol}
		}
	default:
		return "", UnsupportedAddressError{Address: address}
	}
}

// splitRemote separates protocol, host and path for scp-like, ssh:// and https:// remotes.
func splitRemote(remote string) (RemoteProtocol, string, string, bool) {
	switch {
	case strings.HasPrefix(remote, sshProtocolPrefixConstant):
		hostAndPath := strings.TrimPrefix(remote, sshProtocolPrefixConstant)
		hostAndPath = stripUserInfo(hostAndPath)
		host, path, found := strings.Cut(hostAndPath, pathSeparatorConstant)
		if !found {
			return "", "", "", false
		}
		host, _, _ = strings.Cut(host, sshPathDelimiterConstant)
		return RemoteProtocolSSH, host, path, true
	case strings.HasPrefix(remote, httpsProtocolPrefixConstant):
		hostAndPath := stripUserInfo(strings.TrimPrefix(remote, httpsProtocolPrefixConstant))
		host, path, found := strings.Cut(hostAndPath, pathSeparatorConstant)
		if !found {
			return "", "", "", false
		}
		return RemoteProtocolHTTPS, host, path, true
	case strings.HasPrefix(remote, gitUserPrefixConstant):
		host, path, found := strings.Cut(strings.TrimPrefix(remote, gitUserPrefixConstant), sshPathDelimiterConstant)
		if !found {
			return "", "", "", false
		}
		return RemoteProtocolSSH, host, path, true
	default:
		return "", "", "", false
	}
}

func stripUserInfo(hostAndPath string) string {
	authority, _, _ := strings.Cut(hostAndPath, pathSeparatorConstant)
	if userInfoIndex := strings.LastIndex(authority, userInfoDelimiterConstant); userInfoIndex >= 0 {
		return hostAndPath[userInfoIndex+1:]
	}
	return hostAndPath
}

func parseGitHubPath(remote string, protocol RemoteProtocol, path string) (RepositoryAddress, error) {
	segments := splitPathSegments(path)
	if len(segments) != 2 {
		return nil, MalformedAddressError{Input: remote, HostKind: HostKindGitHub, Reason: expectedOwnerRepositoryMessage}
	}
	repository := normalizeRepositoryName(segments[1])
	if len(repository) == 0 {
		return nil, MalformedAddressError{Input: remote, HostKind: HostKindGitHub, Reason: emptyRepositoryNameMessage}
	}
	return GitHubAddress{Remote: remote, Protocol: protocol, Owner: segments[0], Repository: repository}, nil
}

func parseAzureDevOpsSSHPath(remote string, path string) (RepositoryAddress, error) {
	segments := splitPathSegments(path)
	if len(segments) != 4 || segments[0] != azureDevOpsSSHVersionSegmentConstant {
		return nil, MalformedAddressError{Input: remote, HostKind: HostKindAzureDevOps, Reason: expectedAzurePathMessage}
	}
	return buildAzureDevOpsAddress(remote, RemoteProtocolSSH, segments[1], segments[2], segments[3])
}

func parseAzureDevOpsHTTPSPath(remote string, organization string, path string) (RepositoryAddress, error) {
	segments := splitPathSegments(path)
	if len(organization) == 0 {
		if len(segments) == 0 {
			return nil, MalformedAddressError{Input: remote, HostKind: HostKindAzureDevOps, Reason: expectedAzurePathMessage}
		}
		organization = segments[0]
		segments = segments[1:]
	}
	if len(segments) != 3 || segments[1] != azureDevOpsGitSegmentConstant {
		return nil, MalformedAddressError{Input: remote, HostKind: HostKindAzureDevOps, Reason: expectedAzurePathMessage}
	}
	return buildAzureDevOpsAddress(remote, RemoteProtocolHTTPS, organization, segments[0], segments[2])
}

func buildAzureDevOpsAddress(remote string, protocol RemoteProtocol, organization string, project string, repository string) (RepositoryAddress, error) {
	normalizedRepository := normalizeRepositoryName(repository)
	if len(organization) == 0 || len(project) == 0 || len(normalizedRepository) == 0 {
		return nil, MalformedAddressError{Input: remote, HostKind: HostKindAzureDevOps, Reason: expectedAzurePathMessage}
	}
	return AzureDevOpsAddress{
		Remote:       remote,
		Protocol:     protocol,
		Organization: organization,
		Project:      project,
		Repository:   normalizedRepository,
	}, nil
}

func splitPathSegments(path string) []string {
	trimmedPath := strings.Trim(path, pathSeparatorConstant)
	if len(trimmedPath) == 0 {
		return nil
	}
	return strings.Split(trimmedPath, pathSeparatorConstant)
}

func normalizeRepositoryName(repository string) string {
	return strings.TrimSuffix(repository, gitSuffixConstant)
}
