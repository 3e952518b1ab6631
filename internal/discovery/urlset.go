package discovery

// urlSet is an insertion-ordered set of URLs.
type urlSet struct {
	seen  map[string]struct{}
	order []string
}

func newURLSet() *urlSet {
	return &urlSet{seen: make(map[string]struct{})}
}

// add reports whether u was new.
func (s *urlSet) add(u string) bool {
	if _, ok := s.seen[u]; ok {
		return false
	}
	s.seen[u] = struct{}{}
	s.order = append(s.order, u)
	return true
}

func (s *urlSet) len() int {
	return len(s.order)
}

func (s *urlSet) list() []string {
	return append([]string(nil), s.order...)
}
