package execution

// Scheduler distributes jobs across workers
type Scheduler interface {
	Schedule(jobs []Job, workerCount int) [][]Job
}

// RoundRobinScheduler distributes jobs evenly across workers
type RoundRobinScheduler struct{}

// NewRoundRobinScheduler creates a new RoundRobinScheduler
func NewRoundRobinScheduler() *RoundRobinScheduler {
	return &RoundRobinScheduler{}
}

// Schedule deals jobs to workers in turn, so worker i gets jobs i, i+n, i+2n...
func (s *RoundRobinScheduler) Schedule(jobs []Job, workerCount int) [][]Job {
	if workerCount <= 0 {
		workerCount = 1
	}
	if workerCount > len(jobs) && len(jobs) > 0 {
		workerCount = len(jobs)
	}

	distribution := make([][]Job, workerCount)
	for i, job := range jobs {
		distribution[i%workerCount] = append(distribution[i%workerCount], job)
	}
	return distribution
}
