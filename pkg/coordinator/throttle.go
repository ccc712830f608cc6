package coordinator

// throttleCounts is a snapshot of the status map used by the dynamic
// concurrency computation.
type throttleCounts struct {
	tasksDone   int
	activeTasks int
}

// DynamicLimit computes the concurrency ceiling for a cycle: the limit
// grows with completed work up to the configured maximum, which produces
// backpressure: more throughput only as the in-flight pool drains.
func DynamicLimit(tasksDone, desiredActiveBuffer, maxConcurrentTasks int) int {
	limit := tasksDone + desiredActiveBuffer
	if limit > maxConcurrentTasks {
		limit = maxConcurrentTasks
	}
	return limit
}

// SlotsAvailable computes how many new submissions a cycle may make
func SlotsAvailable(tasksDone, activeTasks, desiredActiveBuffer, maxConcurrentTasks int) int {
	slots := DynamicLimit(tasksDone, desiredActiveBuffer, maxConcurrentTasks) - activeTasks
	if slots < 0 {
		return 0
	}
	return slots
}

func (c *Coordinator) counts() throttleCounts {
	c.mu.Lock()
	defer c.mu.Unlock()

	var tc throttleCounts
	for _, state := range c.statuses {
		switch {
		case state.IsTerminal():
			tc.tasksDone++
		case state.IsActive():
			tc.activeTasks++
		}
	}
	return tc
}

func (c *Coordinator) slotsAvailable() int {
	tc := c.counts()
	cfg := c.cfg.Coordinator
	return SlotsAvailable(tc.tasksDone, tc.activeTasks, cfg.DesiredActiveBuffer, cfg.MaxConcurrentTasks)
}
