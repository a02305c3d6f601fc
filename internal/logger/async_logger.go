// Copyright 2025 Google LLC
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

package logger

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AsyncLogger decouples log writers from the rotating file's I/O latency: a
// single goroutine drains a bounded channel and writes to lj, so a slow
// disk or a stalled rotation never blocks a transaction's commit/abort
// logging call. A full buffer drops the message rather than block, since a
// dropped trace line is preferable to a descriptor-table operation stalling
// on logging.
type AsyncLogger struct {
	lj    *lumberjack.Logger
	msgs  chan []byte
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
	dropd bool
}

// NewAsyncLogger starts the draining goroutine and returns a ready writer.
func NewAsyncLogger(lj *lumberjack.Logger, bufferSize int) *AsyncLogger {
	a := &AsyncLogger{
		lj:   lj,
		msgs: make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *AsyncLogger) run() {
	defer a.wg.Done()
	for {
		select {
		case msg, ok := <-a.msgs:
			if !ok {
				return
			}
			a.lj.Write(msg)
		case <-a.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case msg := <-a.msgs:
					a.lj.Write(msg)
				default:
					return
				}
			}
		}
	}
}

// Write implements io.Writer. It copies p, since the caller may reuse its
// buffer after Write returns.
func (a *AsyncLogger) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case a.msgs <- cp:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close stops the draining goroutine after flushing queued messages, then
// closes the underlying rotating file.
func (a *AsyncLogger) Close() error {
	a.once.Do(func() { close(a.done) })
	a.wg.Wait()
	return a.lj.Close()
}
