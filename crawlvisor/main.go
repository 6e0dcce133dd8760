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

// Command crawlvisor works with deployment descriptors and talks to a
// running crawlvisord.
//
// Descriptor commands, which need no daemon:
//
//	validate [file]            - check a descriptor, reporting every problem
//	fmt [file]                 - print a descriptor in canonical form
//	deploy [env]               - pull the source onto a deploy target
//
// Daemon commands:
//
//	services                   - list all services
//	status [<svc> ...]         - show status for the named services (or all)
//	info <svc>                 - show more detailed service info
//	enable  <svc>              - enable the named service
//	disable <svc>              - disable the named service
//	restart <svc>              - restart the named service
//	clear <svc>                - clear the named service
//	log [<svc>]                - obtain the log for the service (or manager)
//	top                        - full screen status display
//
// The daemon address is taken from -a or CRAWLVISOR_ADDR.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tycoon-systems/crawlvisor/internal/logging"
	"github.com/tycoon-systems/crawlvisor/rest"
)

const defaultAddr = "http://127.0.0.1:8321"

const defaultDescriptor = "ecosystem.json"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// cli carries the global settings shared by the subcommands.
type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CRAWLVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("addr", defaultAddr)

	root := &cobra.Command{
		Use:          "crawlvisor",
		Short:        "Manage deployment descriptors and crawlvisord services",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringP("addr", "a", "", "crawlvisord address (default "+defaultAddr+")")
	pf.StringP("user", "u", "", "user:pass for basic authentication")
	pf.Bool("development", false, "human friendly logging")
	for _, name := range []string{"addr", "user", "development"} {
		if err := v.BindPFlag(name, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}

	c := &cli{v: v}
	root.AddCommand(
		c.validateCmd(),
		c.fmtCmd(),
		c.deployCmd(),
		c.servicesCmd(),
		c.statusCmd(),
		c.infoCmd(),
		c.actionCmd("enable", "Enable a service", (*rest.Client).EnableService),
		c.actionCmd("disable", "Disable a service", (*rest.Client).DisableService),
		c.actionCmd("restart", "Restart a service", (*rest.Client).RestartService),
		c.actionCmd("clear", "Clear a failed service", (*rest.Client).ClearService),
		c.logCmd(),
		c.topCmd(),
	)
	return root
}

func (c *cli) addr() string {
	return c.v.GetString("addr")
}

func (c *cli) client() (*rest.Client, error) {
	client := rest.NewClient(nil, c.addr())
	if auth := c.v.GetString("user"); auth != "" {
		a := strings.SplitN(auth, ":", 2)
		if len(a) != 2 {
			return nil, fmt.Errorf("bad user:pass supplied")
		}
		client.SetAuth(a[0], a[1])
	}
	return client, nil
}

func (c *cli) logger() (*zap.Logger, error) {
	return logging.New(c.v.GetBool("development"))
}
