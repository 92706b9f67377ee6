package classify

import (
	"path/filepath"
	"strings"
)

// The builtin always-realize set. These checks run before the rule table
// and cannot be overridden by configuration: no rule file can make a
// recursive delete or a privilege escalation look readable. Every check
// reads only signature-visible features, never the environment, so the
// results stay cacheable.

var privilegePrograms = map[string]bool{
	"sudo": true, "su": true, "doas": true,
}

var devicePrograms = map[string]bool{
	"dd": true, "fdisk": true, "parted": true, "shred": true,
	"wipefs": true, "blkdiscard": true, "mkswap": true,
}

var powerPrograms = map[string]bool{
	"shutdown": true, "reboot": true, "halt": true, "poweroff": true,
}

// infraSubcommands are the mutating verbs of infrastructure tools.
var infraSubcommands = map[string]map[string]bool{
	"kubectl":   {"apply": true, "delete": true, "replace": true, "patch": true, "drain": true, "cordon": true},
	"terraform": {"apply": true, "destroy": true},
	"helm":      {"install": true, "upgrade": true, "uninstall": true, "delete": true, "rollback": true},
	"systemctl": {"stop": true, "restart": true, "disable": true, "mask": true, "enable": true},
}

// builtinSubSensitive seeds the set of programs whose first positional
// argument participates in classification.
var builtinSubSensitive = map[string]bool{
	"git": true, "kubectl": true, "terraform": true, "helm": true, "systemctl": true,
}

var forceKillTokens = map[string]bool{
	"-9": true, "-kill": true, "-sigkill": true,
	"--signal=9": true, "--signal=kill": true, "--signal=sigkill": true,
	"-s:9": true, "-s:kill": true, "-s:sigkill": true,
}

// alwaysRealize returns the name of the builtin rule a sub-command trips,
// if any. Membership here forces tier realize with destructive intent
// regardless of what the rule table says.
func alwaysRealize(f features) (string, bool) {
	switch {
	case privilegePrograms[f.program]:
		return "builtin:privilege-escalation", true
	case devicePrograms[f.program] || strings.HasPrefix(f.program, "mkfs"):
		return "builtin:raw-device-write", true
	case powerPrograms[f.program]:
		return "builtin:system-power", true
	}

	switch f.program {
	case "rm", "unlink":
		if hasFlag(f.flags, "-r") || hasFlag(f.flags, "-R") || hasFlag(f.flags, "--recursive") {
			return "builtin:irrecoverable-delete", true
		}
	case "kill", "pkill", "killall":
		for _, fl := range f.flags {
			if forceKillTokens[strings.ToLower(fl)] {
				return "builtin:force-kill", true
			}
		}
	case "git":
		if f.subcommand == "push" && (hasFlag(f.flags, "--force") || hasFlag(f.flags, "-f")) {
			return "builtin:force-push", true
		}
	default:
		if subs, ok := infraSubcommands[f.program]; ok && subs[f.subcommand] {
			return "builtin:infra-apply", true
		}
	}

	if f.writeClass == writeClassSystem {
		return "builtin:redirect-system-path", true
	}
	return "", false
}

const (
	writeClassPlain  = "plain"
	writeClassSystem = "system"
)

// nullDevices are write targets that discard output; redirecting into
// them adds no risk.
var nullDevices = map[string]bool{
	"/dev/null": true, "/dev/stdout": true, "/dev/stderr": true, "/dev/tty": true,
}

var systemWritePrefixes = []string{
	"/etc", "/usr", "/bin", "/sbin", "/boot", "/sys", "/proc",
	"/lib", "/lib64", "/opt", "/root", "/var", "/dev",
	"/System", "/Library",
}

// sensitiveElements flag writes that reach credential or shell-init
// material no matter where the home directory lives. Checked lexically:
// classification never consults the environment.
var sensitiveElements = map[string]bool{
	".ssh": true, ".aws": true, ".gnupg": true, ".kube": true, ".docker": true,
	".bashrc": true, ".bash_profile": true, ".zshrc": true, ".zprofile": true, ".profile": true,
}

func classifyWriteTargets(targets []string) string {
	class := ""
	for _, t := range targets {
		cleaned := filepath.Clean(t)
		if nullDevices[cleaned] {
			continue
		}
		if isSystemWritePath(cleaned) {
			return writeClassSystem
		}
		class = writeClassPlain
	}
	return class
}

func isSystemWritePath(cleaned string) bool {
	for _, prefix := range systemWritePrefixes {
		if cleaned == prefix || strings.HasPrefix(cleaned, prefix+"/") {
			return true
		}
	}
	for _, elem := range strings.Split(cleaned, "/") {
		if sensitiveElements[elem] {
			return true
		}
	}
	return false
}
