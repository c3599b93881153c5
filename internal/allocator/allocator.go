// Package allocator defines the per-assignment mark allocation document: how
// many points each task and subsection is worth, and in which order
// subsections are marked.
package allocator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrAllocatorInvalid indicates the document violates its invariants.
var ErrAllocatorInvalid = errors.New("mark allocator invalid")

// ErrTaskNotFound indicates the requested task number has no allocation.
var ErrTaskNotFound = errors.New("task not allocated")

// Subsection is one named slice of a task's marks.
type Subsection struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// TaskAllocation holds the points layout of one task.
type TaskAllocation struct {
	Name        string       `json:"name"`
	TaskNumber  int          `json:"task_number"`
	Value       int          `json:"value"`
	Subsections []Subsection `json:"subsections"`
}

// Allocator is the full allocation document for an assignment. Task entries
// are serialised as single-key objects keyed "task{N}" for schema stability.
type Allocator struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Tasks       []TaskAllocation `json:"tasks"`
	TotalValue  int              `json:"total_value"`
}

type allocatorDoc struct {
	GeneratedAt time.Time                   `json:"generated_at"`
	Tasks       []map[string]TaskAllocation `json:"tasks"`
	TotalValue  int                         `json:"total_value"`
}

// MarshalJSON renders the on-disk shape with "taskN" wrapper keys.
func (a Allocator) MarshalJSON() ([]byte, error) {
	doc := allocatorDoc{
		GeneratedAt: a.GeneratedAt,
		TotalValue:  a.TotalValue,
	}
	for _, task := range a.Tasks {
		key := fmt.Sprintf("task%d", task.TaskNumber)
		doc.Tasks = append(doc.Tasks, map[string]TaskAllocation{key: task})
	}
	return json.Marshal(doc)
}

// UnmarshalJSON parses the on-disk shape, unwrapping the "taskN" keys.
func (a *Allocator) UnmarshalJSON(data []byte) error {
	var doc allocatorDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	a.GeneratedAt = doc.GeneratedAt
	a.TotalValue = doc.TotalValue
	a.Tasks = a.Tasks[:0]
	for _, entry := range doc.Tasks {
		for key, task := range entry {
			if task.TaskNumber == 0 {
				// tolerate older documents that only carry the wrapper key
				if _, err := fmt.Sscanf(key, "task%d", &task.TaskNumber); err != nil {
					return fmt.Errorf("%w: bad task key %q", ErrAllocatorInvalid, key)
				}
			}
			a.Tasks = append(a.Tasks, task)
		}
	}

	sortTasks(a.Tasks)
	return nil
}

func sortTasks(tasks []TaskAllocation) {
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0 && tasks[j-1].TaskNumber > tasks[j].TaskNumber; j-- {
			tasks[j-1], tasks[j] = tasks[j], tasks[j-1]
		}
	}
}

// Validate checks the structural invariants: each task value equals the sum
// of its subsection values and subsection names are unique within a task.
func (a Allocator) Validate() error {
	total := 0
	for _, task := range a.Tasks {
		sum := 0
		seen := make(map[string]struct{}, len(task.Subsections))
		for _, sub := range task.Subsections {
			if sub.Value < 0 {
				return fmt.Errorf("%w: negative subsection value in task %d", ErrAllocatorInvalid, task.TaskNumber)
			}
			if _, dup := seen[sub.Name]; dup {
				return fmt.Errorf("%w: duplicate subsection %q in task %d", ErrAllocatorInvalid, sub.Name, task.TaskNumber)
			}
			seen[sub.Name] = struct{}{}
			sum += sub.Value
		}
		if sum != task.Value {
			return fmt.Errorf("%w: task %d value %d != subsection sum %d", ErrAllocatorInvalid, task.TaskNumber, task.Value, sum)
		}
		total += task.Value
	}

	if a.TotalValue != 0 && a.TotalValue != total {
		return fmt.Errorf("%w: total_value %d != task sum %d", ErrAllocatorInvalid, a.TotalValue, total)
	}

	return nil
}

// Task returns the allocation for a task number.
func (a Allocator) Task(taskNumber int) (TaskAllocation, error) {
	for _, task := range a.Tasks {
		if task.TaskNumber == taskNumber {
			return task, nil
		}
	}
	return TaskAllocation{}, fmt.Errorf("%w: task %d", ErrTaskNotFound, taskNumber)
}

// Total returns the point value of a task.
func (a Allocator) Total(taskNumber int) (int, error) {
	task, err := a.Task(taskNumber)
	if err != nil {
		return 0, err
	}
	return task.Value, nil
}

// Subsections returns the ordered subsection layout of a task.
func (a Allocator) Subsections(taskNumber int) ([]Subsection, error) {
	task, err := a.Task(taskNumber)
	if err != nil {
		return nil, err
	}
	return task.Subsections, nil
}

// GrandTotal returns the sum of all task values.
func (a Allocator) GrandTotal() int {
	total := 0
	for _, task := range a.Tasks {
		total += task.Value
	}
	return total
}

// Load reads and validates the allocator document at path.
func Load(path string) (Allocator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Allocator{}, fmt.Errorf("read allocator: %w", err)
	}

	var a Allocator
	if err := json.Unmarshal(data, &a); err != nil {
		return Allocator{}, fmt.Errorf("%w: %v", ErrAllocatorInvalid, err)
	}

	if err := a.Validate(); err != nil {
		return Allocator{}, err
	}

	return a, nil
}

// Marshal renders the document for persistence.
func (a Allocator) Marshal() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// MemoSource names one memo output used to derive an allocation.
type MemoSource struct {
	TaskNumber int
	Name       string
	Content    string
}

// Generate derives an allocator from captured memo outputs: each delimiter
// line opens a subsection and every non-empty body line counts as one point.
func Generate(sources []MemoSource, delimiter string, now time.Time) (Allocator, error) {
	if delimiter == "" {
		return Allocator{}, fmt.Errorf("%w: empty delimiter", ErrAllocatorInvalid)
	}

	a := Allocator{GeneratedAt: now}
	for _, src := range sources {
		task := TaskAllocation{
			Name:       src.Name,
			TaskNumber: src.TaskNumber,
		}
		if task.Name == "" {
			task.Name = fmt.Sprintf("Task %d", src.TaskNumber)
		}

		var current *Subsection
		for _, raw := range strings.Split(src.Content, "\n") {
			line := strings.TrimSpace(raw)
			if strings.HasPrefix(line, delimiter) {
				if current != nil {
					task.Subsections = append(task.Subsections, *current)
					task.Value += current.Value
				}
				name := strings.TrimSpace(strings.TrimPrefix(line, delimiter))
				current = &Subsection{Name: name}
				continue
			}
			if current != nil && line != "" {
				current.Value++
			}
		}
		if current != nil {
			task.Subsections = append(task.Subsections, *current)
			task.Value += current.Value
		}

		a.Tasks = append(a.Tasks, task)
		a.TotalValue += task.Value
	}

	sortTasks(a.Tasks)
	return a, nil
}
