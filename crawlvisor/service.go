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
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tycoon-systems/crawlvisor/crawlvisor/util"
	"github.com/tycoon-systems/crawlvisor/rest"
)

// fetchServices returns the named services, or all of them, sorted for
// display.  Services that cannot be fetched are reported to errs.
func fetchServices(ctx context.Context, client *rest.Client, names []string, errs io.Writer) ([]*rest.ServiceInfo, error) {
	if len(names) == 0 {
		var e error
		if names, e = client.Services(ctx); e != nil {
			return nil, e
		}
	}
	infos := make([]*rest.ServiceInfo, 0, len(names))
	for _, n := range names {
		info, e := client.GetService(ctx, n)
		if e != nil {
			if errs != nil {
				fmt.Fprintf(errs, "%s: %v\n", n, e)
			}
			continue
		}
		infos = append(infos, info)
	}
	util.SortServices(infos)
	return infos, nil
}

func showStatus(w io.Writer, s *rest.ServiceInfo) {
	d := time.Since(s.TimeStamp)
	fmt.Fprintf(w, "%-20s %-10s %10s %s\n", s.Name,
		util.Status(s), util.FormatDuration(d), s.Status)
}

func (c *cli) servicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List all services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			names, err := client.Services(cmd.Context())
			if err != nil {
				return err
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [<svc> ...]",
		Short: "Show status for the named services, or all",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			infos, err := fetchServices(cmd.Context(), client, args, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			for _, info := range infos {
				showStatus(cmd.OutOrStdout(), info)
			}
			return nil
		},
	}
}

func (c *cli) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <svc>",
		Short: "Show detailed service info",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			s, err := client.GetService(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Name:      %s\n", s.Name)
			fmt.Fprintf(w, "Desc:      %s\n", s.Description)
			fmt.Fprintf(w, "Status:    %s\n", util.Status(s))
			fmt.Fprintf(w, "Since:     %s\n", util.FormatDuration(time.Since(s.TimeStamp)))
			fmt.Fprintf(w, "Detail:    %s\n", s.Status)
			fmt.Fprintf(w, "Watching:  %v\n", s.Watching)
			fmt.Fprintf(w, "Restarts:  %d\n", s.Restarts)
			if s.Running {
				fmt.Fprintf(w, "Uptime:    %s\n", util.FormatDuration(s.Uptime))
				fmt.Fprintf(w, "Pid:       %d\n", s.Pid)
			}
			return nil
		},
	}
}

func (c *cli) actionCmd(name, short string, action func(*rest.Client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <svc>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			return action(client, cmd.Context(), args[0])
		},
	}
}

func (c *cli) logCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "log [<svc>]",
		Short: "Print the log of a service, or of the manager",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			l, err := client.GetLog(ctx, name)
			if err != nil {
				return err
			}
			var last int64
			last = printRecords(cmd.OutOrStdout(), l.Records, last)
			for follow {
				nl, err := client.WatchLog(ctx, name, l)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				l = nl
				last = printRecords(cmd.OutOrStdout(), l.Records, last)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines as they arrive")
	return cmd
}

// printRecords prints the records newer than last, and returns the newest
// ID printed.
func printRecords(w io.Writer, recs []rest.LogRecord, last int64) int64 {
	for _, r := range recs {
		if r.Id <= last {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", r.Time.Format(time.RFC3339), r.Text)
		last = r.Id
	}
	return last
}
