package typegen

import "github.com/busybeaver/lp-libs/umsgen/internal/naming"

// Names derives the identifiers emitted for one module. Other modules refer to
// these declarations by name only, so the scheme must stay stable.
type Names struct {
	// Module is the schema document name, e.g. "consumerRequests".
	Module string
}

// Union is the interface implemented by every variant.
func (n Names) Union() string { return naming.Pascal(n.Module) }

// Event is the string type of the discriminant.
func (n Names) Event() string { return n.Union() + "Event" }

// EventConst is the discriminant constant of a variant.
func (n Names) EventConst(title string) string { return n.Event() + naming.Pascal(title) }

// Events is the ordered title list.
func (n Names) Events() string { return n.Union() + "Events" }

// Types is the ordered discriminant list.
func (n Names) Types() string { return n.Union() + "Types" }

// Decode is the function decoding a raw message into its variant.
func (n Names) Decode() string { return "Decode" + n.Union() }

// Marker is the unexported method sealing the union.
func (n Names) Marker() string { return "is" + n.Union() }

// Variant is the struct type of a variant.
func (n Names) Variant(title string) string { return naming.Pascal(title) }

// Payload is the variant struct without its discriminant field.
func (n Names) Payload(title string) string { return naming.Pascal(title) + "Payload" }

// Wrapper is the capability contract of a binding.
func (n Names) Wrapper() string { return n.Union() + "Wrapper" }

// Wrapped is the composed type returned by the composition helper.
func (n Names) Wrapped() string { return "Wrapped" + n.Union() }

// Wrap is the composition helper.
func (n Names) Wrap() string { return "Wrap" + n.Union() }

// reserved returns the module level names in declaration order.
func (n Names) reserved() []string {
	return []string{n.Union(), n.Event(), n.Events(), n.Types(), n.Decode(), n.Wrapper(), n.Wrapped(), n.Wrap()}
}
