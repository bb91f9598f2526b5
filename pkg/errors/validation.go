package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// npmPackageNameRegex matches valid npm package names, scoped or not.
var npmPackageNameRegex = regexp.MustCompile(`^(@[a-z0-9-~][a-z0-9-._~]*/)?[a-z0-9-~][a-z0-9-._~]*$`)

// ValidatePackageName validates a package name found in a manifest.
//
// The validation rules are intentionally conservative:
//   - No empty names
//   - No control characters
//   - No path traversal sequences
//   - Maximum length of 214 characters (the npm limit)
//   - Lowercase npm name grammar, optionally scoped (@scope/name)
func ValidatePackageName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidManifest, "package name cannot be empty")
	}

	if len(name) > 214 {
		return New(ErrCodeInvalidManifest, "package name too long (max 214 characters): %q", name)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidManifest, "package name contains invalid control characters")
		}
	}

	if strings.Contains(name, "..") || strings.Contains(name, "\\") {
		return New(ErrCodeInvalidManifest, "package name contains invalid characters: %q", name)
	}

	if strings.ToLower(name) != name {
		return New(ErrCodeInvalidManifest, "package names must be lowercase: %q", name)
	}

	if !npmPackageNameRegex.MatchString(name) {
		return New(ErrCodeInvalidManifest, "invalid package name: %q", name)
	}

	return nil
}

// ValidatePath validates a file path within a repository for safety.
// It prevents path traversal and ensures reasonable path length.
//
// Validation rules:
//   - Path cannot be empty
//   - Maximum length of 500 characters
//   - No null bytes or control characters
//   - No absolute paths (must be relative)
//   - No path traversal sequences (..)
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 500
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}

	if strings.HasPrefix(path, "/") {
		return New(ErrCodeInvalidPath, "path must be relative (cannot start with /)")
	}

	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return New(ErrCodeInvalidPath, "path cannot contain path traversal sequences (..)")
		}
	}

	return nil
}

// ValidateRegistryURL validates a registry URL string.
// Only http and https registries are supported.
func ValidateRegistryURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidConfig, "registry URL cannot be empty")
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return New(ErrCodeInvalidConfig, "registry URL must use http or https scheme: %q", rawURL)
	}

	return nil
}

// ValidateDistTag validates a dist-tag name. Tags that parse as versions
// are rejected because registries cannot tell them apart from versions.
func ValidateDistTag(tag string) error {
	if tag == "" {
		return New(ErrCodeValidation, "dist-tag cannot be empty")
	}
	if strings.ContainsAny(tag, " /\\@") {
		return New(ErrCodeValidation, "invalid dist-tag %q", tag)
	}
	if looksLikeVersion.MatchString(tag) {
		return New(ErrCodeValidation, "dist-tag %q looks like a version", tag)
	}
	return nil
}

var looksLikeVersion = regexp.MustCompile(`^v?\d+(\.\d+){0,2}`)
