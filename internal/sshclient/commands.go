package sshclient

import (
	"fmt"
	"sort"

	"github.com/tastythames/sshscan/internal/scheduler"
)

// Builtin is an allow-listed read-only diagnostic with a known output format.
type Builtin struct {
	kind string
	line string
}

var builtins = map[string]Builtin{
	"meminfo": {kind: "meminfo", line: "cat /proc/meminfo"},
	"loadavg": {kind: "loadavg", line: "cat /proc/loadavg"},
	"uptime":  {kind: "uptime", line: "cat /proc/uptime"},
	"netdev":  {kind: "netdev", line: "cat /proc/net/dev"},
}

func (b Builtin) Kind() string   { return b.kind }
func (b Builtin) String() string { return b.line }

// Spec wraps the builtin as a command spec. An empty name defaults to the kind.
func (b Builtin) Spec(name string) scheduler.CommandSpec {
	if name == "" {
		name = b.kind
	}
	return scheduler.CommandSpec{Name: name, Lines: []string{b.line}}
}

func CmdMeminfo() Builtin { return builtins["meminfo"] }
func CmdLoadavg() Builtin { return builtins["loadavg"] }
func CmdUptime() Builtin  { return builtins["uptime"] }
func CmdNetDev() Builtin  { return builtins["netdev"] }

// LookupBuiltin returns the builtin registered under kind.
func LookupBuiltin(kind string) (Builtin, error) {
	b, ok := builtins[kind]
	if !ok {
		return Builtin{}, fmt.Errorf("unsupported builtin %q (have %v)", kind, BuiltinKinds())
	}
	return b, nil
}

func BuiltinKinds() []string {
	kinds := make([]string, 0, len(builtins))
	for k := range builtins {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func builtinForLine(line string) (Builtin, bool) {
	for _, b := range builtins {
		if b.line == line {
			return b, true
		}
	}
	return Builtin{}, false
}
