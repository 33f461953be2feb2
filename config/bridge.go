package config

// FileBridge is the reload pipeline between a config file and a Store. The
// file watcher calls HandleChange, and so can anything else that knows the
// file changed.
type FileBridge[T any] struct {
	store    *Store[T]
	filePath string
	defaults *T
}

// NewFileBridge creates a bridge between a config file and the store.
func NewFileBridge[T any](store *Store[T], filePath string, defaults *T) *FileBridge[T] {
	return &FileBridge[T]{
		store:    store,
		filePath: filePath,
		defaults: defaults,
	}
}

// HandleChange reloads the config file and swaps it into the store. A file
// that fails to parse or validate leaves the current value in place.
func (b *FileBridge[T]) HandleChange() error {
	cfg, err := Load[T](b.filePath, b.defaults)
	if err != nil {
		return err
	}
	b.store.Swap(cfg)
	return nil
}
