package taskwire

// registry is an observer registry keyed by subscription handle.
// Listeners are notified in subscription order. Not safe for concurrent use;
// callers hold their own lock.
type registry[T any] struct {
	nextID int
	order  []int
	subs   map[int]func(T)
}

func (r *registry[T]) add(fn func(T)) int {
	if r.subs == nil {
		r.subs = make(map[int]func(T))
	}
	r.nextID++
	id := r.nextID
	r.subs[id] = fn
	r.order = append(r.order, id)
	return id
}

func (r *registry[T]) remove(id int) {
	if _, ok := r.subs[id]; !ok {
		return
	}
	delete(r.subs, id)
	for i, h := range r.order {
		if h == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *registry[T]) notify(v T) {
	for _, id := range r.order {
		if fn, ok := r.subs[id]; ok {
			fn(v)
		}
	}
}
