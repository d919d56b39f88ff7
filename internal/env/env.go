package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes child process environments: OS base, config-wide
// variables, then per-spawn overrides. It is immutable; With* return copies.
type Env struct {
	vars Var // global variables (K->V)
	base Var // cached base from OS environment
}

func New() *Env {
	return &Env{vars: make(Var)}
}

// FromOS returns a copy of e whose base is the current process environment.
func (e *Env) FromOS() *Env {
	return e.WithBase(os.Environ())
}

// WithBase returns a copy of e using kvs ("K=V") as the base layer.
func (e *Env) WithBase(kvs []string) *Env {
	n := e.clone()
	n.base = parse(kvs)
	return n
}

// WithSet returns a copy of e with the global variable k set to v.
func (e *Env) WithSet(k, v string) *Env {
	n := e.clone()
	if k != "" {
		n.vars[k] = v
	}
	return n
}

// WithPairs applies "K=V" pairs as global variables; malformed entries are skipped.
func (e *Env) WithPairs(kvs []string) *Env {
	n := e.clone()
	for k, v := range parse(kvs) {
		n.vars[k] = v
	}
	return n
}

// Merge composes the final environment list applying order:
// base (OS env unless WithBase was used), then global variables,
// then perProc "K=V" overrides. ${VAR} references are expanded once
// against the composed map. The result is sorted by key.
func (e *Env) Merge(perProc []string) []string {
	base := e.base
	if base == nil {
		base = parse(os.Environ())
	}
	m := make(Var, len(base)+len(e.vars)+len(perProc))
	for k, v := range base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for k, v := range parse(perProc) {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

// Lookup finds k in a "K=V" list as produced by Merge.
func Lookup(kvs []string, k string) (string, bool) {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 && kv[:i] == k {
			return kv[i+1:], true
		}
	}
	return "", false
}

func (e *Env) clone() *Env {
	n := &Env{vars: make(Var, len(e.vars)), base: e.base}
	for k, v := range e.vars {
		n.vars[k] = v
	}
	return n
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string {
		if v, ok := m[k]; ok {
			return v
		}
		return "${" + k + "}"
	})
}
