// Copyright 2026 The Crawlvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ecosystem

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"go.uber.org/multierr"
	"mvdan.cc/sh/v3/syntax"
)

var (
	ErrBadFormat     = errors.New("Unknown descriptor format")
	ErrMissing       = errors.New("Required field is empty")
	ErrDuplicate     = errors.New("Duplicate entry")
	ErrBadRepo       = errors.New("Invalid repository URL")
	ErrBadRef        = errors.New("Invalid git ref")
	ErrBadEnvName    = errors.New("Invalid environment variable name")
	ErrBadPath       = errors.New("Path does not resolve")
	ErrNotExecutable = errors.New("Interpreter is not executable")
	ErrBadScript     = errors.New("Script does not parse")
)

// FieldError ties a validation failure to the dotted field path that
// caused it, e.g. "apps[0].name" or "deploy.production.repo".
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Errors splits an error returned by Validate or CheckPaths into its
// individual field errors.
func Errors(err error) []*FieldError {
	var rv []*FieldError
	for _, e := range multierr.Errors(err) {
		var fe *FieldError
		if errors.As(e, &fe) {
			rv = append(rv, fe)
		}
	}
	return rv
}

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func fieldErr(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fieldErr(field, ErrMissing)
	}
	return nil
}

// Validate checks the descriptor without touching the filesystem.  Every
// violation is reported, not just the first.
func (d *Descriptor) Validate() error {
	var err error

	if len(d.Apps) == 0 {
		err = multierr.Append(err, fieldErr("apps", ErrMissing))
	}
	seen := map[string]bool{}
	for i, a := range d.Apps {
		pfx := fmt.Sprintf("apps[%d]", i)
		err = multierr.Append(err, a.validate(pfx))
		if a.Name != "" {
			if seen[a.Name] {
				err = multierr.Append(err,
					fieldErr(pfx+".name", fmt.Errorf("%w: %s", ErrDuplicate, a.Name)))
			}
			seen[a.Name] = true
		}
	}

	if _, ok := d.Deploy[Production]; !ok {
		err = multierr.Append(err, fieldErr("deploy."+Production, ErrMissing))
	}
	for _, env := range d.Environments() {
		err = multierr.Append(err, d.Deploy[env].validate("deploy."+env))
	}
	return err
}

func (a App) validate(pfx string) error {
	err := multierr.Combine(
		required(pfx+".name", a.Name),
		required(pfx+".script", a.Script),
		required(pfx+".interpreter", a.Interpreter),
	)
	for k := range a.Env {
		if !envName.MatchString(k) {
			err = multierr.Append(err,
				fieldErr(pfx+".env", fmt.Errorf("%w: %q", ErrBadEnvName, k)))
		}
	}
	dups := map[string]bool{}
	for _, p := range a.IgnoreWatch {
		if dups[p] {
			err = multierr.Append(err,
				fieldErr(pfx+".ignore_watch", fmt.Errorf("%w: %s", ErrDuplicate, p)))
		}
		dups[p] = true
	}
	return err
}

// Validate checks a single deploy target.  Field paths in the returned
// errors are prefixed with "deploy.<env>".
func (t Target) Validate(env string) error {
	return t.validate("deploy." + env)
}

func (t Target) validate(pfx string) error {
	err := multierr.Combine(
		required(pfx+".host", t.Host),
		required(pfx+".repo", t.Repo),
		required(pfx+".path", t.Path),
		required(pfx+".ref", t.Ref),
	)
	if t.Repo != "" {
		if e := ValidateRepo(t.Repo); e != nil {
			err = multierr.Append(err, fieldErr(pfx+".repo", e))
		}
	}
	if t.Ref != "" {
		if _, e := ParseRef(t.Ref); e != nil {
			err = multierr.Append(err, fieldErr(pfx+".ref", e))
		}
	}
	if t.Port < 0 || t.Port > 65535 {
		err = multierr.Append(err,
			fieldErr(pfx+".port", fmt.Errorf("port %d out of range", t.Port)))
	}
	return err
}

// ValidateRepo checks that s is a syntactically valid git remote: an
// http(s), ssh, git or file URL, an scp-like user@host:path, or an
// absolute local path.
func ValidateRepo(s string) error {
	if strings.ContainsAny(s, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrBadRepo, s)
	}
	ep, e := transport.NewEndpoint(s)
	if e != nil {
		return fmt.Errorf("%w: %v", ErrBadRepo, e)
	}
	switch ep.Protocol {
	case "http", "https", "ssh", "git":
		if ep.Host == "" {
			return fmt.Errorf("%w: %q has no host", ErrBadRepo, s)
		}
		if strings.Trim(ep.Path, "/") == "" {
			return fmt.Errorf("%w: %q has no path", ErrBadRepo, s)
		}
	case "file":
		if !strings.HasPrefix(s, "file://") && !filepath.IsAbs(s) {
			return fmt.Errorf("%w: %q is neither a URL nor an absolute path",
				ErrBadRepo, s)
		}
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrBadRepo, ep.Protocol)
	}
	return nil
}

// ParseRef turns a deploy ref into a fully qualified reference name.
// "origin/main" names a remote tracking branch, "main" a local branch,
// and anything under "refs/" is taken as is.
func ParseRef(s string) (plumbing.ReferenceName, error) {
	if e := checkRefFormat(s); e != nil {
		return "", e
	}
	switch {
	case strings.HasPrefix(s, "refs/"):
		return plumbing.ReferenceName(s), nil
	case strings.Contains(s, "/"):
		parts := strings.SplitN(s, "/", 2)
		return plumbing.NewRemoteReferenceName(parts[0], parts[1]), nil
	}
	return plumbing.NewBranchReferenceName(s), nil
}

// checkRefFormat applies the rules of git-check-ref-format(1).
func checkRefFormat(s string) error {
	bad := func(why string) error {
		return fmt.Errorf("%w: %q %s", ErrBadRef, s, why)
	}
	switch {
	case s == "" || s == "@":
		return bad("is empty")
	case strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/"):
		return bad("begins or ends with a slash")
	case strings.HasSuffix(s, "."):
		return bad("ends with a dot")
	case strings.Contains(s, ".."), strings.Contains(s, "@{"), strings.Contains(s, "//"):
		return bad("contains a forbidden sequence")
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(" ~^:?*[\\", r) {
			return bad("contains a forbidden character")
		}
	}
	for _, c := range strings.Split(s, "/") {
		if strings.HasPrefix(c, ".") || strings.HasSuffix(c, ".lock") {
			return bad("has a component starting with a dot or ending in .lock")
		}
	}
	return nil
}

// CheckPaths verifies that each app's interpreter and script exist
// relative to its working directory (cwd, resolved against dir).  When the
// interpreter is a POSIX style shell, the script must also parse.
func (d *Descriptor) CheckPaths(dir string) error {
	var err error
	for i, a := range d.Apps {
		err = multierr.Append(err, a.checkPaths(fmt.Sprintf("apps[%d]", i), dir))
	}
	return err
}

func (a App) checkPaths(pfx, dir string) error {
	wd := a.WorkDir(dir)
	var err error

	if a.Interpreter != "" {
		if _, e := ResolveInterpreter(a.Interpreter, wd); e != nil {
			err = multierr.Append(err, fieldErr(pfx+".interpreter", e))
		}
	}
	if a.Script == "" {
		return err
	}
	script := a.Script
	if !filepath.IsAbs(script) {
		script = filepath.Join(wd, script)
	}
	fi, e := os.Stat(script)
	if e != nil {
		return multierr.Append(err,
			fieldErr(pfx+".script", fmt.Errorf("%w: %v", ErrBadPath, e)))
	}
	if fi.IsDir() {
		return multierr.Append(err,
			fieldErr(pfx+".script", fmt.Errorf("%w: %s is a directory", ErrBadPath, script)))
	}
	if lang, ok := shellDialect(a.Interpreter); ok {
		if e := parseScript(script, lang); e != nil {
			err = multierr.Append(err, fieldErr(pfx+".script", e))
		}
	}
	return err
}

// ResolveInterpreter returns the absolute path of the interpreter.  Bare
// names are looked up on $PATH; anything with a slash is taken relative to
// wd.
func ResolveInterpreter(interp, wd string) (string, error) {
	if !strings.ContainsRune(interp, '/') {
		p, e := exec.LookPath(interp)
		if e != nil {
			return "", fmt.Errorf("%w: %v", ErrBadPath, e)
		}
		return p, nil
	}
	p := interp
	if !filepath.IsAbs(p) {
		p = filepath.Join(wd, p)
	}
	fi, e := os.Stat(p)
	if e != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPath, e)
	}
	if fi.IsDir() || fi.Mode()&0111 == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotExecutable, p)
	}
	return p, nil
}

func shellDialect(interp string) (syntax.LangVariant, bool) {
	switch filepath.Base(interp) {
	case "bash":
		return syntax.LangBash, true
	case "sh", "dash", "ash":
		return syntax.LangPOSIX, true
	case "mksh":
		return syntax.LangMirBSDKorn, true
	}
	return syntax.LangBash, false
}

func parseScript(path string, lang syntax.LangVariant) error {
	f, e := os.Open(path)
	if e != nil {
		return e
	}
	defer f.Close()
	p := syntax.NewParser(syntax.Variant(lang))
	if _, e := p.Parse(f, path); e != nil {
		return fmt.Errorf("%w: %v", ErrBadScript, e)
	}
	return nil
}
