package scheduler

import (
	"container/heap"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// 属性：出队顺序按优先级降序，同优先级按提交顺序
func TestProperty_QueueOrdersByPriorityThenSequence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("pop order is (-priority, seq)", prop.ForAll(
		func(priorities []int) bool {
			var q taskQueue
			for i, p := range priorities {
				heap.Push(&q, &Task{ID: fmt.Sprint(i), Priority: Priority(p), seq: uint64(i + 1)})
			}

			var prev *Task
			for q.Len() > 0 {
				cur := heap.Pop(&q).(*Task)
				if cur.index != -1 {
					t.Logf("popped task %s keeps heap index %d", cur.ID, cur.index)
					return false
				}
				if prev != nil {
					if cur.Priority > prev.Priority {
						t.Logf("priority inversion: %v after %v", cur.Priority, prev.Priority)
						return false
					}
					if cur.Priority == prev.Priority && cur.seq < prev.seq {
						t.Logf("submission order broken at priority %v: %d after %d", cur.Priority, cur.seq, prev.seq)
						return false
					}
				}
				prev = cur
			}
			return true
		},
		gen.SliceOf(gen.IntRange(int(PriorityLow), int(PriorityUrgent))),
	))

	properties.Property("remove by index keeps remaining order", prop.ForAll(
		func(priorities []int, victim int) bool {
			var q taskQueue
			tasks := make([]*Task, len(priorities))
			for i, p := range priorities {
				tasks[i] = &Task{ID: fmt.Sprint(i), Priority: Priority(p), seq: uint64(i + 1)}
				heap.Push(&q, tasks[i])
			}

			removed := tasks[victim%len(tasks)]
			heap.Remove(&q, removed.index)
			if removed.index != -1 {
				return false
			}

			count := 0
			var prev *Task
			for q.Len() > 0 {
				cur := heap.Pop(&q).(*Task)
				if cur == removed {
					return false
				}
				if prev != nil && (cur.Priority > prev.Priority ||
					(cur.Priority == prev.Priority && cur.seq < prev.seq)) {
					return false
				}
				prev = cur
				count++
			}
			return count == len(tasks)-1
		},
		gen.SliceOfN(8, gen.IntRange(int(PriorityLow), int(PriorityUrgent))),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
