package queue

// New selects the Queue implementation per spec.md §4.2/§9: a shared URL
// configured means multi-replica deployment, so use the distributed Redis
// backend; otherwise the in-process Local backend for single-process
// deployments. Like cache.New, this is a deploy-time configuration choice.
func New(sharedAddr string) (Queue, error) {
	if sharedAddr != "" {
		return NewShared(sharedAddr)
	}
	return NewLocal(), nil
}
