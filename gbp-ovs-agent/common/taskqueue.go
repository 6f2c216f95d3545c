// Copyright (C) 2021 Cisco Systems Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	tomb "gopkg.in/tomb.v2"
)

var (
	tasksExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gbp_agent_tasks_executed_total",
		Help: "Number of tasks run by the task queue worker",
	})
	tasksCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gbp_agent_tasks_coalesced_total",
		Help: "Number of queued tasks replaced by a newer task with the same key",
	})
)

// TaskQueue serialises state mutation onto a single worker goroutine.
// Dispatching a key that is already queued but not yet started replaces the
// pending task, so bursts of updates for the same object collapse into one
// run. Keys run in first-enqueue order.
type TaskQueue struct {
	log *logrus.Entry

	mutex   sync.Mutex
	pending map[string]func()
	order   []string

	wake chan struct{}
	t    tomb.Tomb
}

// NewTaskQueue creates a queue and starts its worker.
func NewTaskQueue(log *logrus.Entry) *TaskQueue {
	q := &TaskQueue{
		log:     log,
		pending: make(map[string]func()),
		wake:    make(chan struct{}, 1),
	}
	q.t.Go(q.run)
	return q
}

// Dispatch enqueues task under key, replacing any pending task with the
// same key. It never blocks.
func (q *TaskQueue) Dispatch(key string, task func()) {
	q.mutex.Lock()
	if _, ok := q.pending[key]; ok {
		tasksCoalesced.Inc()
	} else {
		q.order = append(q.order, key)
	}
	q.pending[key] = task
	q.mutex.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Stop tells the worker to exit once the queue is drained and waits for it.
// Tasks already queued still run; in-flight work completes.
func (q *TaskQueue) Stop() error {
	q.t.Kill(nil)
	return q.t.Wait()
}

func (q *TaskQueue) pop() (func(), bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.order) == 0 {
		return nil, false
	}
	key := q.order[0]
	q.order = q.order[1:]
	task := q.pending[key]
	delete(q.pending, key)
	return task, true
}

func (q *TaskQueue) run() error {
	for {
		if task, ok := q.pop(); ok {
			q.runTask(task)
			continue
		}
		select {
		case <-q.wake:
		case <-q.t.Dying():
			for {
				task, ok := q.pop()
				if !ok {
					return nil
				}
				q.runTask(task)
			}
		}
	}
}

// A failing task must not take down the worker; it is logged and the next
// task runs. Updates are edge-triggered so the next event retries the work.
func (q *TaskQueue) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorf("task panicked: %v", r)
		}
	}()
	tasksExecuted.Inc()
	task()
}
