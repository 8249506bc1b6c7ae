package storage

// ProcessingState is the position of the service in the inspection
// lifecycle.
type ProcessingState int

const (
	Idle ProcessingState = iota
	ProductInspection
	SeamInspection
	// WaitingForLwmResult: the seam ended but its LWM verdict is outstanding.
	WaitingForLwmResult
	// WaitingForLwmResultAtEndOfProduct: the product ended as well.
	WaitingForLwmResultAtEndOfProduct
)

// String returns the state name.
func (s ProcessingState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case ProductInspection:
		return "ProductInspection"
	case SeamInspection:
		return "SeamInspection"
	case WaitingForLwmResult:
		return "WaitingForLwmResult"
	case WaitingForLwmResultAtEndOfProduct:
		return "WaitingForLwmResultAtEndOfProduct"
	default:
		return "Unknown"
	}
}

type pathMode int

const (
	// temporary discards the staged instance directory.
	temporary pathMode = iota
	// final keeps the instance directory that was moved into place.
	final
)
