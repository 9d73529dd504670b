package models

import (
	"strconv"
	"strings"
)

// Job is a batch of work units submitted together to the batch scheduler as
// one invocation.
type Job struct {
	Name       string
	Units      []WorkUnit
	OutputPath string
	ErrorPath  string
}

// JobName builds "<prefix>_<ord>_<ord>..." from the member ordinals.
func JobName(prefix string, units []WorkUnit) string {
	parts := make([]string, 0, len(units)+1)
	parts = append(parts, prefix)
	for _, u := range units {
		parts = append(parts, strconv.Itoa(u.Ordinal))
	}
	return strings.Join(parts, "_")
}

// Paths returns the member unit IDs in submission order.
func (j *Job) Paths() []string {
	paths := make([]string, len(j.Units))
	for i, u := range j.Units {
		paths[i] = u.ID
	}
	return paths
}

// Ordinals returns the member ordinals in submission order.
func (j *Job) Ordinals() []int {
	ords := make([]int, len(j.Units))
	for i, u := range j.Units {
		ords[i] = u.Ordinal
	}
	return ords
}
