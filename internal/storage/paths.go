package storage

import (
	"fmt"
	"path/filepath"
)

// Layout resolves every on-disk location the grading pipeline touches. All
// assignment state lives under a single storage root:
//
//	<root>/module_{M}/assignment_{A}/
//	  config/config.json
//	  main/            instructor starter archive
//	  memo/            instructor solution archive
//	  makefile/        makefile archive
//	  mark_allocator/allocator.json
//	  memo_output/task{n}.txt
//	  interpreter/     optional, gatlam submission mode only
//	  assignment_submissions/user_{U}/attempt_{K}/
type Layout struct {
	root string
}

// NewLayout creates a layout rooted at the given directory.
func NewLayout(root string) Layout {
	return Layout{root: root}
}

// Root returns the storage root directory.
func (l Layout) Root() string {
	return l.root
}

// AssignmentDir returns the base directory for an assignment.
func (l Layout) AssignmentDir(moduleID, assignmentID uint) string {
	return filepath.Join(l.root,
		fmt.Sprintf("module_%d", moduleID),
		fmt.Sprintf("assignment_%d", assignmentID))
}

// ConfigPath returns the execution config document path.
func (l Layout) ConfigPath(moduleID, assignmentID uint) string {
	return filepath.Join(l.AssignmentDir(moduleID, assignmentID), "config", "config.json")
}

// MainDir returns the directory holding the instructor starter archive.
func (l Layout) MainDir(moduleID, assignmentID uint) string {
	return filepath.Join(l.AssignmentDir(moduleID, assignmentID), "main")
}

// MemoDir returns the directory holding the instructor solution archive.
func (l Layout) MemoDir(moduleID, assignmentID uint) string {
	return filepath.Join(l.AssignmentDir(moduleID, assignmentID), "memo")
}

// MakefileDir returns the directory holding the makefile archive.
func (l Layout) MakefileDir(moduleID, assignmentID uint) string {
	return filepath.Join(l.AssignmentDir(moduleID, assignmentID), "makefile")
}

// InterpreterDir returns the directory holding the optional interpreter archive.
func (l Layout) InterpreterDir(moduleID, assignmentID uint) string {
	return filepath.Join(l.AssignmentDir(moduleID, assignmentID), "interpreter")
}

// AllocatorPath returns the mark allocator document path.
func (l Layout) AllocatorPath(moduleID, assignmentID uint) string {
	return filepath.Join(l.AssignmentDir(moduleID, assignmentID), "mark_allocator", "allocator.json")
}

// MemoOutputDir returns the directory of captured memo outputs.
func (l Layout) MemoOutputDir(moduleID, assignmentID uint) string {
	return filepath.Join(l.AssignmentDir(moduleID, assignmentID), "memo_output")
}

// MemoOutputPath returns the memo output file for one task.
func (l Layout) MemoOutputPath(moduleID, assignmentID uint, taskNumber int) string {
	return filepath.Join(l.MemoOutputDir(moduleID, assignmentID), fmt.Sprintf("task%d.txt", taskNumber))
}

// AttemptDir returns the directory for one submission attempt.
func (l Layout) AttemptDir(moduleID, assignmentID, userID uint, attempt int) string {
	return filepath.Join(l.AssignmentDir(moduleID, assignmentID),
		"assignment_submissions",
		fmt.Sprintf("user_%d", userID),
		fmt.Sprintf("attempt_%d", attempt))
}

// ReportPath returns the on-disk submission report for one attempt.
func (l Layout) ReportPath(moduleID, assignmentID, userID uint, attempt int) string {
	return filepath.Join(l.AttemptDir(moduleID, assignmentID, userID, attempt), "submission_report.json")
}
