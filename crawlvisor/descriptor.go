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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tycoon-systems/crawlvisor/deploy"
	"github.com/tycoon-systems/crawlvisor/ecosystem"
)

var errInvalid = errors.New("descriptor is invalid")

func descriptorArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return defaultDescriptor
}

func (c *cli) validateCmd() *cobra.Command {
	var dir string
	var noPaths bool
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a descriptor and report every problem found",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := descriptorArg(args)
			d, err := ecosystem.Load(path)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = filepath.Dir(path)
			}
			err = d.Validate()
			if err == nil && !noPaths {
				err = d.CheckPaths(dir)
			}
			if err != nil {
				for _, fe := range ecosystem.Errors(err) {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", path, fe)
				}
				return errInvalid
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d apps, deploy targets: %s)\n",
				path, len(d.Apps), strings.Join(d.Environments(), ", "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "base directory for app paths (default: the descriptor's directory)")
	cmd.Flags().BoolVar(&noPaths, "no-paths", false, "skip the interpreter and script checks")
	return cmd
}

func (c *cli) fmtCmd() *cobra.Command {
	var to string
	var write, remote bool
	cmd := &cobra.Command{
		Use:   "fmt [file]",
		Short: "Print a descriptor in canonical form",
		Long: "Print a descriptor in canonical form, optionally converting it.\n" +
			"With --remote, the descriptor loaded by crawlvisord is printed instead.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote {
				f := ecosystem.JSON
				if to != "" {
					var err error
					if f, err = ecosystem.ParseFormat(to); err != nil {
						return err
					}
				}
				client, err := c.client()
				if err != nil {
					return err
				}
				b, err := client.Descriptor(cmd.Context(), f)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}

			path := descriptorArg(args)
			d, err := ecosystem.Load(path)
			if err != nil {
				return err
			}
			f, _ := ecosystem.FormatFromPath(path)
			if to != "" {
				if f, err = ecosystem.ParseFormat(to); err != nil {
					return err
				}
			}
			if write {
				out := strings.TrimSuffix(path, filepath.Ext(path)) + "." + f.String()
				if err := d.Save(out); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}
			return d.Encode(cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVarP(&to, "to", "t", "", "output format: json, yaml or toml (default: the input format)")
	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the result to a file instead of stdout")
	cmd.Flags().BoolVar(&remote, "remote", false, "print the descriptor loaded by crawlvisord")
	return cmd
}

func (c *cli) deployCmd() *cobra.Command {
	var (
		file       string
		dryRun     bool
		asJSON     bool
		knownHosts string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "deploy [env]",
		Short: "Fetch and reset the source tree on a deploy target",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := ecosystem.Production
			if len(args) > 0 {
				env = args[0]
			}
			d, err := ecosystem.Load(file)
			if err != nil {
				return err
			}
			t, ok := d.Target(env)
			if !ok {
				return fmt.Errorf("%w: %s", deploy.ErrUnknownTarget, env)
			}

			if dryRun {
				if err := t.Validate(env); err != nil {
					return err
				}
				steps, err := deploy.Plan(t)
				if err != nil {
					return err
				}
				for _, st := range steps {
					fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", st.Name, st.Command)
				}
				return nil
			}

			logger, err := c.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			// With --json, stdout carries only the result.
			live := cmd.OutOrStdout()
			if asJSON {
				live = cmd.ErrOrStderr()
			}
			opts := deploy.SSHOptions{KnownHosts: knownHosts, Timeout: timeout}
			dep := deploy.New(d,
				deploy.WithLogger(logger),
				deploy.WithDialer(func(ctx context.Context, t ecosystem.Target) (deploy.Runner, error) {
					if t.Local() {
						return deploy.LocalRunner{}, nil
					}
					return deploy.DialSSH(ctx, t, opts)
				}),
				deploy.WithOutput(live, cmd.ErrOrStderr()))

			res, err := dep.Deploy(cmd.Context(), env)
			if asJSON && res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if e := enc.Encode(res); e != nil && err == nil {
					err = e
				}
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", defaultDescriptor, "deployment descriptor")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "print the commands without running them")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the deploy result as JSON")
	cmd.Flags().StringVar(&knownHosts, "known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "SSH connect timeout")
	return cmd
}
