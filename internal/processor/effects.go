package processor

type queuedJob struct {
	name     string
	payload  any
	priority int
}

// SideEffects collects the work a transaction wants done once it commits.
// Nothing recorded here runs if the transaction rolls back.
type SideEffects struct {
	uris []string
	seen map[string]bool
	jobs []queuedJob
}

// Invalidate marks uris as changed; empty values are ignored
func (fx *SideEffects) Invalidate(uris ...string) {
	if fx.seen == nil {
		fx.seen = make(map[string]bool)
	}
	for _, uri := range uris {
		if uri == "" || fx.seen[uri] {
			continue
		}
		fx.seen[uri] = true
		fx.uris = append(fx.uris, uri)
	}
}

// Enqueue records a job to queue after commit
func (fx *SideEffects) Enqueue(name string, payload any, priority int) {
	fx.jobs = append(fx.jobs, queuedJob{name: name, payload: payload, priority: priority})
}

// URIs returns the distinct changed uris in the order they were recorded
func (fx *SideEffects) URIs() []string {
	return fx.uris
}

// Jobs returns the names of the queued jobs
func (fx *SideEffects) Jobs() []string {
	names := make([]string, len(fx.jobs))
	for i, j := range fx.jobs {
		names[i] = j.name
	}
	return names
}
