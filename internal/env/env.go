// Package env composes the environment handed to child processes: the
// launcher's own environment plus fixed overrides.
package env

import (
	"os"
	"runtime"
	"sort"
	"strings"
)

// foldKeys makes key comparison case-insensitive, as Windows treats
// environment variable names.
var foldKeys = runtime.GOOS == "windows"

func keyOf(k string) string {
	if foldKeys {
		return strings.ToUpper(k)
	}
	return k
}

type Var map[string]string

type Env struct {
	Var  Var      // overrides (K->V), applied over the base
	base []string // "K=V" list; nil means os.Environ()
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// WithBase returns an Env whose base is the given "K=V" list instead of the OS environment.
func WithBase(base []string) *Env {
	e := New()
	e.base = append([]string{}, base...)
	return e
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) *Env {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
	return e
}

// Merge composes the final environment: base, then e.Var, then extra
// ("K=V") entries. Later sources win. Malformed and empty-key entries are
// dropped. The result is sorted by key. On Windows keys that differ only in
// case are one variable; the first spelling seen is kept.
func (e *Env) Merge(extra ...string) []string {
	base := e.base
	if base == nil {
		base = os.Environ()
	}
	type entry struct{ name, value string }
	m := make(map[string]entry, len(base)+len(e.Var)+len(extra))
	set := func(k, v string) {
		if k == "" {
			return
		}
		fk := keyOf(k)
		if cur, ok := m[fk]; ok {
			k = cur.name
		}
		m[fk] = entry{name: k, value: v}
	}
	apply := func(list []string) {
		for _, kv := range list {
			if k, v, ok := strings.Cut(kv, "="); ok {
				set(k, v)
			}
		}
	}
	apply(base)
	for k, v := range e.Var {
		set(k, v)
	}
	apply(extra)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k].name+"="+m[k].value)
	}
	return out
}

// Lookup returns the value of k in a "K=V" list.
func Lookup(list []string, k string) (string, bool) {
	for i := len(list) - 1; i >= 0; i-- {
		if key, v, ok := strings.Cut(list[i], "="); ok && keyOf(key) == keyOf(k) {
			return v, true
		}
	}
	return "", false
}
