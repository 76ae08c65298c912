package safety

import (
	"regexp"
	"strings"
)

// envOverrideNames are the environment variables that must never be
// overridden inline as a command prefix (VAR=value cmd...), since doing so
// is a common injection/escalation vector (LD_PRELOAD, PATH hijacking, …).
var envOverrideNames = []string{
	"PATH", "LD_PRELOAD", "LD_LIBRARY_PATH", "DYLD_INSERT_LIBRARIES",
	"DYLD_LIBRARY_PATH", "PYTHONPATH", "NODE_PATH", "PERL5LIB", "RUBYLIB",
	"CLASSPATH", "HOME", "SHELL", "USER", "TERM", "IFS",
}

var envOverrideRe = regexp.MustCompile(`(?i)^\s*(` + strings.Join(envOverrideNames, "|") + `)\s*=\S*\s*`)

// quotedSegmentRe matches single- or double-quoted runs so they can be
// placeholder-substituted before pattern matching and restored after.
var quotedSegmentRe = regexp.MustCompile(`'[^']*'|"[^"]*"`)

var systemPathPrefixes = []string{
	"/etc/", "/boot/", "/usr/", "/var/", "/root/", "/sys/", "/proc/",
	"/lib/", "/lib64/", "/opt/", "/run/", "/.ssh/",
}

// dangerousShellRegexes cover the curated set of destructive/RCE patterns
// from the shell-command family. Each is matched against the normalized
// command and against each chain segment independently.
var dangerousShellRegexes = []struct {
	name string
	re   *regexp.Regexp
}{
	{"rm -rf / or .. (destructive deletion)", regexp.MustCompile(`\brm\s+(-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*|-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*|--recursive)\s+(--\s+)?(/[^a-zA-Z0-9]*\s*$|/\s|~|\$home|\.\.(/|\s|$))`)},
	{"mkfs (filesystem creation/destruction)", regexp.MustCompile(`\bmkfs(\.\w+)?\b`)},
	{"dd to a disk device", regexp.MustCompile(`\bdd\s+.*\bof=/dev/(sd|nvme|hd|xvd)`)},
	{"fork bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{"redirect to a disk device", regexp.MustCompile(`>\s*/dev/(sd|nvme|hd|xvd)\w*`)},
	{"chmod 777 on root", regexp.MustCompile(`\bchmod\s+(-R\s+)?0?777\s+/\s*$`)},
	{"chown on system directory", regexp.MustCompile(`\bchown\s+(-R\s+)?\S+\s+(/etc|/boot|/usr|/var|/root|/sys|/proc)\b`)},
	{"pipe to shell (curl|sh style)", regexp.MustCompile(`\b(curl|wget)\b[^|&;]*\|\s*(sudo\s+)?(sh|bash|zsh|dash)\b`)},
	{"remote code execution via scripting language", regexp.MustCompile(`\b(curl|wget)\b[^|&;]*\|\s*(python[23]?|perl|ruby|node)\b`)},
	{"reverse shell via nc -e", regexp.MustCompile(`\bnc\b.*-e\s+`)},
	{"eval with command substitution", regexp.MustCompile(`\beval\s+.*(\$\(|` + "`" + `)`)},
	{"base64 decode piped to shell", regexp.MustCompile(`\bbase64\s+(-d|--decode)\b[^|&;]*\|\s*(sudo\s+)?(sh|bash|zsh|dash)\b`)},
	{"indirect execution via variable/substitution", regexp.MustCompile(`^\s*(\$\{?\w+\}?|\$\(.*\)|` + "`" + `.*` + "`" + `)\s`)},
}

// ValidateShellCommand implements the shell-command safety family:
// normalize, then run env-override stripping, curated regex matching, and
// system-path targeting checks, all per chain segment as well as on the
// whole normalized command.
func (v *Validator) ValidateShellCommand(command string) error {
	// Matching happens against the masked form — quoted segments become
	// opaque placeholders — so a dangerous pattern written as a string
	// literal argument (e.g. echo "rm -rf /") can never match.
	masked := maskedShellCommand(command)

	segments := splitChainSegments(masked)
	segments = append(segments, masked)

	for _, seg := range segments {
		head := stripEnvOverrides(seg)

		for _, name := range envOverrideNames {
			if regexp.MustCompile(`(?i)\b`+name+`\s*=`).MatchString(seg) && head != seg {
				return NewError(KindBlockedCommand, "command overrides sensitive environment variable %s", name)
			}
		}

		for _, rule := range dangerousShellRegexes {
			if rule.re.MatchString(head) {
				return NewError(KindBlockedCommand, "command matches dangerous pattern: %s", rule.name)
			}
		}

		for _, prefix := range systemPathPrefixes {
			if strings.Contains(head, prefix) && (strings.Contains(head, "rm ") || strings.Contains(head, ">")) {
				return NewError(KindBlockedCommand, "command targets protected system path %s", prefix)
			}
		}
	}

	return nil
}

// maskedShellCommand applies the normalization pipeline — collapse
// whitespace, collapse consecutive slashes, strip backslash-escape
// obfuscation, rewrite backticks to $(, normalize pipe spacing — while
// keeping every quoted segment replaced by an opaque placeholder, so no
// dangerous-pattern regex can ever match text that appeared inside a
// quoted string literal argument.
func maskedShellCommand(cmd string) string {
	masked := quotedSegmentRe.ReplaceAllString(cmd, "\x00Q\x00")

	masked = strings.Join(strings.Fields(masked), " ")
	masked = regexp.MustCompile(`/{2,}`).ReplaceAllString(masked, "/")
	masked = regexp.MustCompile(`\\(.)`).ReplaceAllString(masked, "$1")
	masked = regexp.MustCompile("`([^`]*)`").ReplaceAllString(masked, "$($1)")
	masked = regexp.MustCompile(`\s*\|\s*`).ReplaceAllString(masked, " | ")

	return strings.ToLower(masked)
}

// splitChainSegments splits a normalized command on ;, &&, || at the top
// level (quoted segments are already placeholder-masked by the caller's
// normalization, so splitting on these tokens inside a restored quote is
// a known, accepted imprecision — the whole-command match still catches it).
func splitChainSegments(normalized string) []string {
	re := regexp.MustCompile(`&&|\|\||;`)
	parts := re.Split(normalized, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stripEnvOverrides recursively removes leading "VAR=value" prefixes from
// a command segment, returning the effective command head.
func stripEnvOverrides(seg string) string {
	for {
		m := envOverrideRe.FindStringIndex(seg)
		if m == nil {
			return strings.TrimSpace(seg)
		}
		seg = seg[m[1]:]
	}
}
