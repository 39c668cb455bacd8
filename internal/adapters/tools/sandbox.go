package tools

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
)

// CodeSandboxViolation marks an operation the sandbox refused.
const CodeSandboxViolation = "SANDBOX_VIOLATION"

// sensitivePatterns are matched against the lowercased base name, or the
// slash-separated workspace path when they contain a slash.
var sensitivePatterns = []string{
	".env", ".env.*",
	".git/config", "**/.git/config",
	"credentials*", "secrets*", "password*", "token*",
	"id_rsa*", "id_ed25519*",
	"*.pem", "*.key", "*.pfx", "*.p12", "*.crt",
	"kubeconfig", ".netrc", ".npmrc", ".pypirc",
	"config.json",
	"*.sqlite", "*.sqlite3", "*.db",
}

// IsSensitivePath reports whether a workspace-relative path names a file
// that must never be written by a worker.
func IsSensitivePath(rel string) bool {
	slashed := strings.ToLower(filepath.ToSlash(rel))
	base := strings.ToLower(filepath.Base(rel))
	for _, pattern := range sensitivePatterns {
		target := base
		if strings.Contains(pattern, "/") {
			target = slashed
		}
		if ok, _ := doublestar.Match(pattern, target); ok {
			return true
		}
	}
	return false
}

var dangerousCommands = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rR][a-zA-Z]*\s+(-[a-zA-Z]*\s+)*(/|~|\$HOME|\*)(\s|$|/\*)`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bdd\b.*\bof=/dev/`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
	regexp.MustCompile(`\b(curl|wget)\b[^|;&]*\|\s*(sudo\s+)?(ba|z|da)?sh\b`),
	regexp.MustCompile(`>\s*/dev/(sd|hd|nvme|disk)`),
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]+\s+)*777\s+/(\s|$)`),
	regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
	regexp.MustCompile(`\bgit\s+push\b.*(\s--force\b|\s-f\b)`),
}

// IsDangerousCommand reports whether a shell command matches a blocked
// pattern.
func IsDangerousCommand(cmd string) bool {
	for _, re := range dangerousCommands {
		if re.MatchString(cmd) {
			return true
		}
	}
	return false
}

func sandboxViolation(msg string) error {
	return core.ErrValidation(CodeSandboxViolation, msg)
}
