package cache

// New selects the Cache implementation per spec.md §4.1: if a shared cache
// URL is configured, use the distributed Redis backend; otherwise fall back
// to the in-process Local backend. This is a deploy-time configuration
// choice, not a runtime dependency-injection decision (spec.md §9).
func New(sharedAddr string) (Cache, error) {
	if sharedAddr != "" {
		return NewShared(sharedAddr)
	}
	return NewLocal(0), nil
}
