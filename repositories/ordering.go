package repositories

import (
	"sort"

	"github.com/CodeBTHS/app/models"
)

// sortByDueDate orders tasks by due date, undated tasks last, then by name.
func sortByDueDate(tasks []models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i].DueDate, tasks[j].DueDate
		switch {
		case a == nil && b != nil:
			return false
		case a != nil && b == nil:
			return true
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return tasks[i].Name < tasks[j].Name
	})
}
