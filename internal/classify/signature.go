package classify

import (
	"sort"
	"strings"

	"github.com/metraton/warden/internal/model"
)

// features is everything classification is allowed to read from a
// sub-command. The cache signature is built from exactly these fields,
// which is what makes cached results safe: two commands with the same
// features always classify identically.
type features struct {
	program    string
	subcommand string
	flags      []string
	writeClass string
}

// valueCarryingFlags keep their value in the signature because the value
// changes semantics (a signal name decides force-kill, not the flag).
var valueCarryingFlags = map[string]bool{
	"--signal": true,
}

// signalFlagPrograms take a signal as the argument after -s/--signal.
var signalFlagPrograms = map[string]bool{
	"kill": true, "pkill": true, "killall": true,
}

func extractFeatures(sub model.SubCommand, subSensitive map[string]bool) features {
	f := features{program: sub.Program}

	var flags []string
	for i := 0; i < len(sub.Args); i++ {
		arg := sub.Args[i]
		if arg == "--" {
			continue
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			if f.subcommand == "" {
				f.subcommand = arg
			}
			continue
		}
		flags = append(flags, normalizeFlag(arg))
		if signalFlagPrograms[sub.Program] && (arg == "-s" || arg == "--signal") && i+1 < len(sub.Args) {
			flags = append(flags, "-s:"+strings.ToLower(sub.Args[i+1]))
			i++
		}
	}
	sort.Strings(flags)
	f.flags = dedupe(flags)

	if !subSensitive[sub.Program] {
		f.subcommand = ""
	}
	f.writeClass = classifyWriteTargets(sub.WriteTargets)
	return f
}

// normalizeFlag drops per-invocation values (--output=/tmp/x becomes
// --output) but keeps values that carry semantics (--signal=KILL).
func normalizeFlag(arg string) string {
	if eq := strings.IndexByte(arg, '='); eq >= 0 && strings.HasPrefix(arg, "--") {
		if valueCarryingFlags[arg[:eq]] {
			return strings.ToLower(arg)
		}
		return arg[:eq]
	}
	return arg
}

// matchesFlag reports whether a rule's wanted flag is present in one
// normalized token. Single-letter short flags match inside clusters, so
// "-r" finds "-rf" and "-i" finds "-i.bak".
func matchesFlag(want, token string) bool {
	if want == token {
		return true
	}
	if len(want) == 2 && want[0] == '-' &&
		strings.HasPrefix(token, "-") && !strings.HasPrefix(token, "--") {
		return strings.ContainsRune(token[1:], rune(want[1]))
	}
	return false
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if matchesFlag(want, f) {
			return true
		}
	}
	return false
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	var prev string
	for i, s := range sorted {
		if i > 0 && s == prev {
			continue
		}
		out = append(out, s)
		prev = s
	}
	return out
}

// signature renders the features into the cache key. The table checksum
// is not part of the key because a reload swaps in a whole new cache.
func (f features) signature() string {
	var sb strings.Builder
	sb.WriteString(f.program)
	if f.subcommand != "" {
		sb.WriteByte(' ')
		sb.WriteString(f.subcommand)
	}
	for _, fl := range f.flags {
		sb.WriteByte(' ')
		sb.WriteString(fl)
	}
	if f.writeClass != "" {
		sb.WriteString(" wt:")
		sb.WriteString(f.writeClass)
	}
	return sb.String()
}
