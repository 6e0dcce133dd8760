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

// Package crawlvisor supervises the processes declared in an ecosystem
// descriptor.  It is a small process manager in the spirit of supervisord:
// each app in the descriptor becomes a Service, backed by a Process
// provider that runs the app's script under its interpreter.  A Manager
// checks its services periodically, restarts the ones that failed (within
// a rate limit), and keeps a log of what happened.
//
// Apps that ask for watch mode get a Watcher, which restarts the service
// when files below its working directory change.
//
// The manager is not meant to replace init or systemd.  It is meant to be
// run by the crawler's operators, next to the crawler, and controlled
// through the REST API in the rest subpackage.
package crawlvisor
