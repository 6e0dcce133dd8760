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

// Package deploy implements pull based deployment of an ecosystem deploy
// target.  The target host clones the repository once, then every deploy
// fetches and hard resets the checkout to the configured ref, and finally
// runs the optional post-deploy command.  Commands run over SSH, or
// locally when the target is this machine.
package deploy

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/tycoon-systems/crawlvisor/ecosystem"
)

// Step names.
const (
	StepSetup      = "setup"
	StepFetch      = "fetch"
	StepReset      = "reset"
	StepPostDeploy = "post-deploy"
)

// Step is a single shell command run on the target.
type Step struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// quote makes s safe to use as a single POSIX shell word.
func quote(s string) (string, error) {
	q, e := syntax.Quote(s, syntax.LangPOSIX)
	if e != nil {
		return "", fmt.Errorf("cannot quote %q: %w", s, e)
	}
	return q, nil
}

// Plan returns the commands that deploy t, in order.  The setup step is
// idempotent, so every deploy runs the full plan.  Paths are used as
// given; a relative path is relative to the login directory on the target.
func Plan(t ecosystem.Target) ([]Step, error) {
	var path, src, repo, ref string
	for _, w := range []struct {
		dst *string
		val string
	}{
		{&path, t.Path},
		{&src, t.SourceDir()},
		{&repo, t.Repo},
		{&ref, t.Ref},
	} {
		q, e := quote(w.val)
		if e != nil {
			return nil, e
		}
		*w.dst = q
	}

	steps := []Step{
		{
			Name: StepSetup,
			Command: fmt.Sprintf("mkdir -p %s && if [ ! -d %s ]; then git clone %s %s; fi",
				path, src+"/.git", repo, src),
		},
		{
			Name:    StepFetch,
			Command: fmt.Sprintf("git -C %s fetch --all --prune", src),
		},
		{
			Name:    StepReset,
			Command: fmt.Sprintf("git -C %s reset --hard %s", src, ref),
		},
	}

	if pd := strings.TrimSpace(t.PostDeploy); pd != "" {
		if _, e := syntax.NewParser().Parse(strings.NewReader(pd), StepPostDeploy); e != nil {
			return nil, fmt.Errorf("%w: post-deploy: %v", ecosystem.ErrBadScript, e)
		}
		steps = append(steps, Step{
			Name:    StepPostDeploy,
			Command: fmt.Sprintf("cd %s && %s", src, pd),
		})
	}
	return steps, nil
}
