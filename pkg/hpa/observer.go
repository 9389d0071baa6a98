// Copyright 2024 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hpa

// Observer is notified about deferred work done by a shard. Notifications
// are delivered after the shard has released its main lock, so an Observer
// may query or free into the shard. It must not allocate from it, since a
// notification can be delivered while the shard is growing.
type Observer interface {
	// PurgeDone is called after a pageslab has been purged.
	PurgeDone(PurgeEvent)
	// HugifyDone is called after a pageslab has been hugified.
	HugifyDone(HugifyEvent)
}

// PurgeEvent describes a completed purge.
type PurgeEvent struct {
	// Addr is the address of the pageslab.
	Addr uintptr
	// Npages is the number of dirty pages purged.
	Npages int
	// Nranges is the number of ranges purged.
	Nranges int
	// Dehugified is true if the pageslab was huge before the purge.
	Dehugified bool
}

// HugifyEvent describes a completed hugification.
type HugifyEvent struct {
	// Addr is the address of the pageslab.
	Addr uintptr
	// Err is the error returned by the OS, if any.
	Err error
}

type event interface {
	deliver(Observer)
}

func (e *PurgeEvent) deliver(o Observer) {
	o.PurgeDone(*e)
}

func (e *HugifyEvent) deliver(o Observer) {
	o.HugifyDone(*e)
}
