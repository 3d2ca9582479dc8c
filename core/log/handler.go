// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import "sync"

// Handler is the handler of log messages.
type Handler interface {
	Handle(*Message)
	Close()
}

type handler struct {
	handle func(*Message)
	close  func()
}

func (h handler) Handle(m *Message) { h.handle(m) }
func (h handler) Close()            { h.close() }

// NewHandler returns a Handler that calls handle for each message and close
// when closed.
func NewHandler(handle func(*Message), close func()) Handler {
	if close == nil {
		close = func() {}
	}
	return handler{handle, close}
}

// Broadcaster forwards all messages to all supplied handlers.
type Broadcaster struct {
	mutex sync.RWMutex
	l     []Handler
}

// Broadcast forwards all messages sent to Broadcast to all supplied handlers.
func Broadcast(handlers ...Handler) *Broadcaster {
	return &Broadcaster{l: handlers}
}

// Listen calls Add(h), returning a function that calls Remove(h).
func (b *Broadcaster) Listen(h Handler) (unlisten func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.l = append(b.l, h)
	return func() {
		b.mutex.Lock()
		defer b.mutex.Unlock()
		for i, l := range b.l {
			if l == h {
				copy(b.l[i:], b.l[i+1:])
				b.l = b.l[:len(b.l)-1]
				return
			}
		}
	}
}

// Handle broadcasts the message to all registered handlers.
func (b *Broadcaster) Handle(m *Message) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, h := range b.l {
		h.Handle(m)
	}
}

// Close closes all registered handlers.
func (b *Broadcaster) Close() {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, h := range b.l {
		h.Close()
	}
}
