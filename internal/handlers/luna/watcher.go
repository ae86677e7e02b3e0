package luna

import "audiod/internal/core/domain"

// Watcher is a live subscription created by a status method called with
// subscribe:true. Transports feed it every notification and push the
// rendered reply when Render reports a match.
type Watcher struct {
	Method string
	Kind   domain.StreamKind
	// Stream limits the watcher to one stream. Empty means every stream of
	// Kind.
	Stream domain.StreamID

	render func(n domain.StatusNotification) Reply
}

func (w *Watcher) Render(n domain.StatusNotification) (Reply, bool) {
	if n.Kind != w.Kind {
		return nil, false
	}
	if w.Stream != "" && n.Stream.Stream != w.Stream {
		return nil, false
	}
	reply := w.render(n)
	reply["subscribed"] = true
	return reply, true
}
