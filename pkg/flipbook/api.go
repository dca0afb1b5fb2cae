package flipbook

// API is the control surface exposed to toolbars and remote clients.
// Controller implements it.
type API interface {
	ZoomIn()
	ZoomOut()
	SetZoom(z float64)
	Reset()
	JumpTo(page int, target FlipTarget) error
	State() State
}

var _ API = (*Controller)(nil)
