package session

import (
	"errors"
	"sort"

	"github.com/alanbriolat/video-downloader/internal/sync_"
)

var (
	ErrDuplicateTask = errors.New("duplicate task ID")
)

type tasksByID = map[TaskID]*task

// registry is the set of known tasks.
type registry struct {
	tasks *sync_.RWMutexed[tasksByID]
}

func newRegistry() *registry {
	return &registry{tasks: sync_.NewRWMutexed(make(tasksByID))}
}

func (r *registry) insert(t *task) error {
	return r.tasks.Locked(func(tasks *tasksByID) error {
		if _, ok := (*tasks)[t.id]; ok {
			return ErrDuplicateTask
		}
		(*tasks)[t.id] = t
		return nil
	})
}

// replace stores t, whether or not a task with the same ID exists.
func (r *registry) replace(t *task) {
	_ = r.tasks.Locked(func(tasks *tasksByID) error {
		(*tasks)[t.id] = t
		return nil
	})
}

// remove returns the removed task, or nil if it was not found.
func (r *registry) remove(id TaskID) (t *task) {
	_ = r.tasks.Locked(func(tasks *tasksByID) error {
		t = (*tasks)[id]
		delete(*tasks, id)
		return nil
	})
	return t
}

func (r *registry) get(id TaskID) (t *task) {
	_ = r.tasks.RLocked(func(tasks *tasksByID) error {
		t = (*tasks)[id]
		return nil
	})
	return t
}

// all returns every task, oldest first.
func (r *registry) all() []*task {
	var list []*task
	_ = r.tasks.RLocked(func(tasks *tasksByID) error {
		list = make([]*task, 0, len(*tasks))
		for _, t := range *tasks {
			list = append(list, t)
		}
		return nil
	})
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].addedAt.Equal(list[j].addedAt) {
			return list[i].id < list[j].id
		}
		return list[i].addedAt.Before(list[j].addedAt)
	})
	return list
}

// clear removes and returns every task.
func (r *registry) clear() []*task {
	var list []*task
	_ = r.tasks.Locked(func(tasks *tasksByID) error {
		for _, t := range *tasks {
			list = append(list, t)
		}
		*tasks = make(tasksByID)
		return nil
	})
	return list
}
