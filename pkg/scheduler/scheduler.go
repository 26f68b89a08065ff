// Package scheduler implements the TaskGraph: a concurrent,
// dependency-ordered, de-duplicating, result-caching executor. A single
// command-processing loop owns the node index, the in-progress set, and
// the result cache; task bodies run on their own goroutines and report
// back through the loop, so the bookkeeping is never observed mid-update.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyocore/pkg/eventbus"
	"github.com/openfroyo/froyocore/pkg/ferrors"
	"github.com/openfroyo/froyocore/pkg/model"
)

// outEdge is an edge from a dependency node to one of its dependents.
// gate edges (baseKey predecessor serialization) unblock on completion or
// failure but never cascade-cancel; dep edges cascade-cancel on failure and
// feed their output into the dependent's dependencyResults.
type outEdge struct {
	target string
	gate   bool
}

type taskNode struct {
	task        Task
	id          string
	baseKey     string
	key         string
	parentType  string
	pendingDeps map[string]bool
	outEdges    []outEdge
	depOutputs  map[string]interface{}
	startedAt   time.Time
}

// addRef is what addTaskLocked returns for a single task so callers can
// either wire a pending dependency edge or, for a cache hit, fold the
// already-known output directly into the caller's dependencyResults.
type addRef struct {
	key         string
	baseKey     string
	immediate   bool
	output      interface{}
	completedAt time.Time
}

type command interface{}

type cmdAdd struct {
	tasks      []Task
	parentType string
	done       chan addResult
}

type addResult struct {
	refs []addRef
	err  error
}

type cmdDone struct {
	key    string
	output interface{}
}

type cmdFailed struct {
	key string
	err error
}

// Scheduler is the TaskGraph: the single logical owner of index, the
// in-progress set, and the result cache. Task process bodies run
// concurrently on their own goroutines; only this type's run loop mutates
// shared scheduling state.
type Scheduler struct {
	maxParallel int
	bus         *eventbus.Bus
	log         zerolog.Logger

	commands chan command

	// state owned exclusively by run(); never touched from other goroutines.
	index          map[string]*taskNode
	inProgress     map[string]bool
	typeInProgress map[string]int
	baseKeyActive  map[string]string
	depCache       map[string][]string // key -> memoised dependency base-keys
	results        *resultCache
	idleSince      bool // true while the graph is in an idle window (no nodes indexed)

	mu      sync.Mutex // guards waiters only; run() owns everything else
	waiters map[string][]chan terminal
}

type terminal struct {
	id          string
	output      interface{}
	err         error
	startedAt   time.Time
	completedAt time.Time
	depResults  map[string]interface{}
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithMaxParallel sets the global concurrency ceiling (default 10).
func WithMaxParallel(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxParallel = n
		}
	}
}

// WithMaxCacheSize overrides the result cache's size bound
// (defaultMaxCacheSize, 1000).
func WithMaxCacheSize(n int) Option {
	return func(s *Scheduler) { s.results = newResultCache(n) }
}

// New constructs a Scheduler and starts its command loop.
func New(bus *eventbus.Bus, log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		maxParallel:    10,
		bus:            bus,
		log:            log,
		commands:       make(chan command, 64),
		index:          make(map[string]*taskNode),
		inProgress:     make(map[string]bool),
		typeInProgress: make(map[string]int),
		baseKeyActive:  make(map[string]string),
		depCache:       make(map[string][]string),
		results:        newResultCache(defaultMaxCacheSize),
		waiters:        make(map[string][]chan terminal),
		idleSince:      true,
	}
	for _, o := range opts {
		o(s)
	}
	go s.run()
	return s
}

// Process submits tasks (optionally enqueued on behalf of parent, for the
// same-type concurrency exception) and blocks until every submitted task
// reaches a terminal state, returning a TaskResult per task keyed by
// BaseKey. If any submitted task errors, Process returns a TaskError
// wrapping the results accumulated so far.
func (s *Scheduler) Process(ctx context.Context, tasks []Task, parent Task) (map[string]*model.TaskResult, error) {
	parentType := ""
	if parent != nil {
		parentType = parent.Type()
	}

	// Waiters are registered before the add command is sent, so a task that
	// terminates before the add result is read still reaches its waiter. A
	// cache hit is answered on its channel directly; the second slot keeps a
	// later run of the same key from blocking on that channel.
	waitChans := make([]chan terminal, len(tasks))
	for i, task := range tasks {
		waitChans[i] = make(chan terminal, 2)
		s.registerWaiter(task.Key(), waitChans[i])
	}

	done := make(chan addResult, 1)
	s.commands <- cmdAdd{tasks: tasks, parentType: parentType, done: done}
	res := <-done
	if res.err != nil {
		return nil, res.err
	}

	for i, ref := range res.refs {
		if ref.immediate {
			waitChans[i] <- terminal{output: ref.output, startedAt: ref.completedAt, completedAt: ref.completedAt}
		}
	}

	results := make(map[string]*model.TaskResult, len(tasks))
	var firstErr error
	for i, task := range tasks {
		select {
		case t := <-waitChans[i]:
			r := &model.TaskResult{
				Type:              task.Type(),
				BaseKey:           task.BaseKey(),
				Key:               task.Key(),
				ID:                t.id,
				Description:       task.Description(),
				StartedAt:         t.startedAt,
				CompletedAt:       t.completedAt,
				Output:            t.output,
				Error:             t.err,
				DependencyResults: t.depResults,
			}
			results[task.BaseKey()] = r
			if t.err != nil {
				r.ErrorText = t.err.Error()
				if firstErr == nil {
					firstErr = t.err
				}
			}
		case <-ctx.Done():
			return results, ctx.Err()
		}
	}

	if firstErr != nil {
		return results, ferrors.NewTaskError("one or more tasks failed", firstErr).WithDetail("results", results)
	}
	return results, nil
}

// Resolve behaves like Process but unwraps outputs from results, returning
// a map of BaseKey to output directly.
func (s *Scheduler) Resolve(ctx context.Context, tasks []Task, parent Task) (map[string]interface{}, error) {
	results, err := s.Process(ctx, tasks, parent)
	outputs := make(map[string]interface{}, len(results))
	for k, r := range results {
		outputs[k] = r.Output
	}
	return outputs, err
}

func (s *Scheduler) registerWaiter(key string, ch chan terminal) {
	s.mu.Lock()
	s.waiters[key] = append(s.waiters[key], ch)
	s.mu.Unlock()
}

func (s *Scheduler) notifyWaiters(key string, t terminal) {
	s.mu.Lock()
	chans := s.waiters[key]
	delete(s.waiters, key)
	s.mu.Unlock()
	for _, ch := range chans {
		ch <- t
	}
}

// run is the single command-processing loop: the sole mutator of index,
// inProgress, the caches, and per-type counters.
func (s *Scheduler) run() {
	for cmd := range s.commands {
		switch c := cmd.(type) {
		case cmdAdd:
			refs := make([]addRef, len(c.tasks))
			var firstErr error
			for i, t := range c.tasks {
				ref, err := s.addTaskLocked(t, c.parentType)
				if err != nil {
					firstErr = err
					break
				}
				refs[i] = ref
			}
			if firstErr != nil {
				c.done <- addResult{err: firstErr}
				continue
			}
			c.done <- addResult{refs: refs}
		case cmdDone:
			s.handleDone(c.key, c.output)
		case cmdFailed:
			s.handleFailed(c.key, c.err)
		}
		s.checkGraphComplete()
		s.drainReady()
	}
}

// addTaskLocked indexes a task and its dependency closure: cache hits
// complete immediately, an in-progress node with the same baseKey gates
// the new node behind it, and everything else becomes a pending node. It
// must only be called from run().
func (s *Scheduler) addTaskLocked(task Task, parentType string) (addRef, error) {
	key := task.Key()
	baseKey := task.BaseKey()

	if _, exists := s.index[key]; exists {
		return addRef{key: key, baseKey: baseKey}, nil
	}

	if !task.Force() {
		if cached, ok := s.results.Get(key); ok {
			s.emit(eventbus.EventTaskComplete, key, baseKey, cached.output)
			return addRef{key: key, baseKey: baseKey, immediate: true, output: cached.output, completedAt: cached.completedAt}, nil
		}
	}

	depBaseKeys, cached := s.depCache[key]
	deps, err := task.Dependencies()
	if err != nil {
		return addRef{}, ferrors.NewTaskError("failed to compute task dependencies", err).WithResource(baseKey)
	}
	if !cached {
		depBaseKeys = make([]string, 0, len(deps))
		for _, d := range deps {
			depBaseKeys = append(depBaseKeys, d.BaseKey())
		}
		s.depCache[key] = depBaseKeys
	}

	n := &taskNode{
		task:        task,
		id:          uuid.New().String(),
		baseKey:     baseKey,
		key:         key,
		parentType:  parentType,
		pendingDeps: make(map[string]bool),
		depOutputs:  make(map[string]interface{}),
	}

	for _, dep := range deps {
		ref, err := s.addTaskLocked(dep, "")
		if err != nil {
			return addRef{}, err
		}
		if ref.immediate {
			n.depOutputs[ref.baseKey] = ref.output
			continue
		}
		n.pendingDeps[ref.key] = true
		s.index[ref.key].outEdges = append(s.index[ref.key].outEdges, outEdge{target: key})
	}

	if predKey, ok := s.baseKeyActive[baseKey]; ok && predKey != key {
		if _, stillActive := s.index[predKey]; stillActive {
			n.pendingDeps[predKey] = true
			s.index[predKey].outEdges = append(s.index[predKey].outEdges, outEdge{target: key, gate: true})
		}
	}
	s.baseKeyActive[baseKey] = key

	s.index[key] = n
	s.emit(eventbus.EventTaskPending, key, baseKey, nil)
	return addRef{key: key, baseKey: baseKey}, nil
}

func (s *Scheduler) handleDone(key string, output interface{}) {
	n, ok := s.index[key]
	if !ok {
		return
	}
	completedAt := time.Now()
	s.results.Put(key, output, completedAt)
	s.finishNode(n)
	s.emit(eventbus.EventTaskComplete, key, n.baseKey, output)

	for _, e := range n.outEdges {
		target, ok := s.index[e.target]
		if !ok {
			continue
		}
		delete(target.pendingDeps, key)
		if !e.gate {
			target.depOutputs[n.baseKey] = output
		}
	}
	s.notifyWaiters(key, terminal{
		id:          n.id,
		output:      output,
		startedAt:   n.startedAt,
		completedAt: completedAt,
		depResults:  n.depOutputs,
	})
}

func (s *Scheduler) handleFailed(key string, err error) {
	n, ok := s.index[key]
	if !ok {
		return
	}
	completedAt := time.Now()
	s.finishNode(n)
	s.emit(eventbus.EventTaskError, key, n.baseKey, err)
	s.notifyWaiters(key, terminal{
		id:          n.id,
		err:         err,
		startedAt:   n.startedAt,
		completedAt: completedAt,
		depResults:  n.depOutputs,
	})

	toCancel := s.collectCascade(n)
	for _, ck := range toCancel {
		if cn, ok := s.index[ck]; ok {
			s.finishNode(cn)
			s.log.Debug().Str("key", ck).Str("cause", key).Msg("task cancelled: transitive dependency failed")
			s.notifyWaiters(ck, terminal{
				id:  cn.id,
				err: ferrors.NewTaskError("dependency failed", err).WithResource(cn.baseKey),
			})
		}
	}

	for _, e := range n.outEdges {
		if !e.gate {
			continue
		}
		if target, ok := s.index[e.target]; ok {
			delete(target.pendingDeps, key)
		}
	}
}

// collectCascade returns every node transitively reachable via non-gate
// outEdges from n, which must be removed from the graph without executing.
func (s *Scheduler) collectCascade(n *taskNode) []string {
	var result []string
	seen := map[string]bool{}
	var visit func(*taskNode)
	visit = func(cur *taskNode) {
		for _, e := range cur.outEdges {
			if e.gate || seen[e.target] {
				continue
			}
			seen[e.target] = true
			result = append(result, e.target)
			if child, ok := s.index[e.target]; ok {
				visit(child)
			}
		}
	}
	visit(n)
	return result
}

func (s *Scheduler) finishNode(n *taskNode) {
	delete(s.index, n.key)
	if s.baseKeyActive[n.baseKey] == n.key {
		delete(s.baseKeyActive, n.baseKey)
	}
	if s.inProgress[n.key] {
		delete(s.inProgress, n.key)
		s.typeInProgress[n.task.Type()]--
	}
}

// drainReady starts every root node (empty pendingDeps, not already
// in-progress) whose concurrency ceilings permit it.
func (s *Scheduler) drainReady() {
	for _, n := range s.readyNodes() {
		if s.inProgress[n.key] {
			continue
		}
		if len(s.inProgress) >= s.maxParallel {
			break
		}
		limit := n.task.ConcurrencyLimit()
		if limit > 0 && n.parentType != n.task.Type() && s.typeInProgress[n.task.Type()] >= limit {
			continue
		}

		s.inProgress[n.key] = true
		s.typeInProgress[n.task.Type()]++
		n.startedAt = time.Now()
		s.emit(eventbus.EventTaskProcessing, n.key, n.baseKey, n.task.Version())

		go s.runTask(n)
	}
}

// readyNodes returns a deterministic snapshot of nodes with no remaining
// pending dependencies, sorted by key for reproducible scheduling order.
func (s *Scheduler) readyNodes() []*taskNode {
	var ready []*taskNode
	for _, n := range s.index {
		if len(n.pendingDeps) == 0 {
			ready = append(ready, n)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].key < ready[j].key })
	return ready
}

func (s *Scheduler) runTask(n *taskNode) {
	ctx := context.Background()
	output, err := n.task.Process(ctx, n.depOutputs)
	if err != nil {
		s.commands <- cmdFailed{key: n.key, err: err}
		return
	}
	s.commands <- cmdDone{key: n.key, output: output}
}

func (s *Scheduler) checkGraphComplete() {
	if len(s.index) == 0 {
		if !s.idleSince {
			s.emit(eventbus.EventTaskGraphComplete, "", "", map[string]interface{}{"completedAt": time.Now()})
			s.idleSince = true
		}
		return
	}
	if s.idleSince {
		s.emit(eventbus.EventTaskGraphProcessing, "", "", map[string]interface{}{"startedAt": time.Now()})
		s.idleSince = false
	}
}

func (s *Scheduler) emit(t eventbus.EventType, key, baseKey string, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: t, Key: key, BaseKey: baseKey, Payload: payload})
}
