package gitlab

import (
	"sync"
	"time"
)

type cachedProject struct {
	project   Project
	fetchedAt time.Time
}

// projectCache memoizes project lookups so commit enrichment does not
// refetch project metadata per event.
type projectCache struct {
	mu       sync.RWMutex
	projects map[string]cachedProject
	ttl      time.Duration
}

func newProjectCache(ttl time.Duration) *projectCache {
	return &projectCache{projects: make(map[string]cachedProject), ttl: ttl}
}

func (c *projectCache) get(id string) (Project, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.projects[id]
	if !ok || time.Since(entry.fetchedAt) > c.ttl {
		return Project{}, false
	}
	return entry.project, true
}

func (c *projectCache) set(id string, p Project) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projects[id] = cachedProject{project: p, fetchedAt: time.Now()}
}
