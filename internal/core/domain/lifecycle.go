package domain

// Lifecycle replaces the free-floating is_deleted flag on products and keys.
type Lifecycle int

const (
	LifecycleActive Lifecycle = iota
	LifecycleDeleted
)

func LifecycleFromDeleted(deleted bool) Lifecycle {
	if deleted {
		return LifecycleDeleted
	}
	return LifecycleActive
}

func (l Lifecycle) IsDeleted() bool {
	return l == LifecycleDeleted
}

func (l Lifecycle) String() string {
	if l == LifecycleDeleted {
		return "deleted"
	}
	return "active"
}
