package webadmin

// StatusServer is the interface the controller drives. Routes are fixed,
// read-only, and registered in Start; there is no route-registration
// hook.
type StatusServer interface {
	Start(port int) error
	Stop() error
}
