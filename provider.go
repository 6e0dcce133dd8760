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

package crawlvisor

// Provider is what service providers must implement.  The manager promises
// not to call Start, Stop, Check or the property methods concurrently, so
// implementers need only guard against their own goroutines.  Applications
// should use the Service wrapper instead of this interface.
type Provider interface {
	// Name returns the name of the provider.  For descriptor backed
	// processes this is the app name.
	Name() string

	// Description is a short human readable summary, suitable for a
	// status column.
	Description() string

	// Start attempts to start the service.  It blocks until the service
	// is either started successfully, or has definitively failed.
	Start() error

	// Stop attempts to stop the service.  As with Start, it blocks until
	// the operation is complete.  This is never allowed to fail.
	Stop()

	// Check performs a health check on the service.  It returns nil if
	// all is well; otherwise the error should say why the check failed.
	Check() error

	// Property returns the value of a property.
	Property(PropertyName) (interface{}, error)

	// SetProperty sets the value of a property.
	SetProperty(PropertyName, interface{}) error
}
