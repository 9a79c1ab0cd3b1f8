package ports

import "github.com/PFigs/backend-client/internal/domain"

type Collector interface {
	Start(out chan<- domain.WorkItem) error
	Stop() error
}
