package actiongraph

import (
	"container/heap"
	"context"
	"os"
	"sync"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"golang.org/x/sync/errgroup"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	schedulerPrometheusMetrics sync.Once

	schedulerActionsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bonsai",
			Subsystem: "actiongraph",
			Name:      "scheduler_actions_completed_total",
			Help:      "Number of actions that finished executing, and whether they succeeded.",
		},
		[]string{"mnemonic", "result"})
	schedulerActionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bonsai",
			Subsystem: "actiongraph",
			Name:      "scheduler_action_duration_seconds",
			Help:      "Amount of time spent executing an action's procedure.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 10, 7),
		},
		[]string{"mnemonic"})
)

// OutputChecker verifies that a declared output path exists after an
// action's procedure returned.
type OutputChecker func(path string) error

// LocalOutputChecker checks declared outputs against the local file
// system.
func LocalOutputChecker(path string) error {
	_, err := os.Stat(path)
	return err
}

// Scheduler executes a pruned action graph. Actions run in parallel,
// ordered only by the partial order their input/output relation
// implies; an action is never started before every generated file it
// reads has been produced.
type Scheduler struct {
	concurrency int
	clock       clock.Clock
	checkOutput OutputChecker
}

func NewScheduler(concurrency int, clock clock.Clock, checkOutput OutputChecker) *Scheduler {
	schedulerPrometheusMetrics.Do(func() {
		prometheus.MustRegister(schedulerActionsCompletedTotal)
		prometheus.MustRegister(schedulerActionDurationSeconds)
	})

	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		concurrency: concurrency,
		clock:       clock,
		checkOutput: checkOutput,
	}
}

// ExecutionResults records the outcome of executing the reachable
// action graph. Actions that were not executed because one of their
// transitive inputs failed carry an error referring to the cause.
type ExecutionResults struct {
	actionErrors map[*Action]error
}

// ActionError returns why an action failed or was not executed, or nil
// if it succeeded.
func (er *ExecutionResults) ActionError(a *Action) error {
	return er.actionErrors[a]
}

// FileError returns why a file was not produced, or nil if the file is
// a source file or its producing action succeeded.
func (er *ExecutionResults) FileError(f *File) error {
	if producer := f.Producer(); producer != nil {
		return er.actionErrors[producer]
	}
	return nil
}

// Failed returns whether any action failed.
func (er *ExecutionResults) Failed() bool {
	return len(er.actionErrors) > 0
}

// readyQueue is a priority queue of actions whose inputs are all
// available, keyed by a deterministic sort key so that scheduling
// order is stable between builds.
type readyQueue []*Action

func (rq readyQueue) Len() int {
	return len(rq)
}

func (rq readyQueue) Less(i, j int) bool {
	return rq[i].sortKey() < rq[j].sortKey()
}

func (rq readyQueue) Swap(i, j int) {
	rq[i], rq[j] = rq[j], rq[i]
}

func (rq *readyQueue) Push(x any) {
	*rq = append(*rq, x.(*Action))
}

func (rq *readyQueue) Pop() any {
	last := (*rq)[len(*rq)-1]
	(*rq)[len(*rq)-1] = nil
	*rq = (*rq)[:len(*rq)-1]
	return last
}

type completion struct {
	action *Action
	err    error
}

func (s *Scheduler) runAction(ctx context.Context, a *Action) error {
	start := s.clock.Now()
	err := a.run(ctx, a.inputPaths(), a.outputPaths())
	schedulerActionDurationSeconds.WithLabelValues(a.Mnemonic()).
		Observe(s.clock.Now().Sub(start).Seconds())
	if err != nil {
		return util.StatusWrapf(err, "Failed to execute action %#v of target %#v", a.Mnemonic(), a.Owner().String())
	}

	// The procedure returning success is not sufficient; every
	// declared output must actually exist. Outputs that were
	// created without being declared are intentionally ignored.
	for _, path := range a.outputPaths() {
		if err := s.checkOutput(path); err != nil {
			return status.Errorf(codes.NotFound, "Action %#v of target %#v did not create declared output %#v", a.Mnemonic(), a.Owner().String(), path)
		}
	}
	return nil
}

// Execute runs all provided actions, which must form the reachable
// subgraph computed by ReachableActions. When an action fails, actions
// that were already started run to completion and independent actions
// continue to be scheduled, but no successor of the failed action is
// started. A failed action is terminal for the build attempt; there
// are no retries.
func (s *Scheduler) Execute(ctx context.Context, actions []*Action) *ExecutionResults {
	// Invert the input/output relation into dependency counts and
	// consumer lists, deduplicating actions that produce multiple
	// inputs of the same consumer.
	pending := make(map[*Action]int, len(actions))
	consumers := make(map[*Action][]*Action, len(actions))
	for _, a := range actions {
		producersSeen := make(map[*Action]struct{})
		for _, input := range a.Inputs() {
			if producer := input.Producer(); producer != nil {
				if _, ok := producersSeen[producer]; !ok {
					producersSeen[producer] = struct{}{}
					consumers[producer] = append(consumers[producer], a)
				}
			}
		}
		pending[a] = len(producersSeen)
	}

	var ready readyQueue
	for _, a := range actions {
		if pending[a] == 0 {
			heap.Push(&ready, a)
		}
	}

	results := &ExecutionResults{
		actionErrors: make(map[*Action]error),
	}
	finished := 0

	// Propagate a failure to every transitive consumer, so that
	// none of them is ever started.
	var markNotExecuted func(failed *Action)
	markNotExecuted = func(failed *Action) {
		for _, consumer := range consumers[failed] {
			if _, ok := results.actionErrors[consumer]; !ok {
				results.actionErrors[consumer] = status.Errorf(
					codes.FailedPrecondition,
					"Action %#v of target %#v was not executed because action %#v of target %#v failed",
					consumer.Mnemonic(), consumer.Owner().String(), failed.Mnemonic(), failed.Owner().String())
				finished++
				markNotExecuted(consumer)
			}
		}
	}

	var group errgroup.Group
	group.SetLimit(s.concurrency)
	// Buffered, so that completions never block a goroutine while
	// the dispatcher is itself blocked launching work.
	completions := make(chan completion, len(actions))
	inFlight := 0

	for finished < len(actions) {
		for ready.Len() > 0 {
			a := heap.Pop(&ready).(*Action)
			if _, ok := results.actionErrors[a]; ok {
				// Marked as not executed after one of
				// its producers failed, while another
				// producer still completed and readied
				// it.
				continue
			}
			if err := ctx.Err(); err != nil {
				results.actionErrors[a] = util.StatusFromContext(ctx)
				finished++
				markNotExecuted(a)
				continue
			}
			inFlight++
			group.Go(func() error {
				completions <- completion{
					action: a,
					err:    s.runAction(ctx, a),
				}
				return nil
			})
		}
		if inFlight == 0 {
			break
		}

		c := <-completions
		inFlight--
		finished++
		if c.err != nil {
			schedulerActionsCompletedTotal.WithLabelValues(c.action.Mnemonic(), "failure").Inc()
			results.actionErrors[c.action] = c.err
			markNotExecuted(c.action)
		} else {
			schedulerActionsCompletedTotal.WithLabelValues(c.action.Mnemonic(), "success").Inc()
			for _, consumer := range consumers[c.action] {
				pending[consumer]--
				if pending[consumer] == 0 {
					heap.Push(&ready, consumer)
				}
			}
		}
	}

	group.Wait()
	return results
}
