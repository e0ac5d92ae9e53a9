// Package binding derives the typed capability contracts layered over the
// generic notification and send primitives, and renders them as Go source.
//
// A notification contract has one On<Title> method per variant of its own
// module. A request/response contract has one Do<Title> method per mapped
// request variant; the request module is referenced by name only.
package binding

import (
	"fmt"

	"github.com/busybeaver/lp-libs/umsgen/eventmodel"
	"github.com/busybeaver/lp-libs/umsgen/internal/gosrc"
	"github.com/busybeaver/lp-libs/umsgen/internal/naming"
	"github.com/busybeaver/lp-libs/umsgen/mapping"
	"github.com/busybeaver/lp-libs/umsgen/typegen"
	"github.com/busybeaver/lp-libs/umsgen/umserrors"
)

// Pattern selects the shape of a contract.
type Pattern string

const (
	PatternNotifications Pattern = "notifications"
	PatternResponses     Pattern = "responses"
)

// Method is one contract method.
type Method struct {
	Name string
	// Variant is the title of the message the method handles or sends.
	Variant string
	// Event is the discriminant constant, qualified for request modules.
	Event string
	// Message is the variant struct type, qualified for request modules.
	Message string
	// Payload is the request parameter type. Empty for notifications.
	Payload string
	// PayloadField is the name of the embedded payload within Message.
	PayloadField string
	// Result is the response type returned by the method. Empty for notifications.
	Result string
}

// Contract is the binding of one module.
type Contract struct {
	Module  string
	Pattern Pattern
	Names   typegen.Names
	// Base is the generic primitive the composition helper embeds.
	Base    string
	Methods []Method
	// DiscField is the Go name of the request discriminant field.
	DiscField string
	// Requests is the import of the request module, set for PatternResponses.
	Requests *gosrc.Import
}

// Notifications builds the notification contract of f. common is the
// package qualifier of the common module.
func Notifications(f *typegen.File, common string) (*Contract, error) {
	n := f.Names
	c := &Contract{
		Module:  f.Model.Name,
		Pattern: PatternNotifications,
		Names:   n,
		Base:    common + ".NotificationHandler[" + n.Event() + "]",
	}
	for _, v := range f.Variants {
		name := "On" + naming.Pascal(v.Variant.Title)
		if name == "OnNotification" {
			return nil, &umserrors.Error{Module: f.Model.Name, Stage: umserrors.StageBind, Code: umserrors.CodeNameCollision,
				Variant: v.Variant.Title, Err: fmt.Errorf("method %s would shadow the base subscription method", name)}
		}
		c.Methods = append(c.Methods, Method{
			Name:    name,
			Variant: v.Variant.Title,
			Event:   n.EventConst(v.Variant.Title),
			Message: v.Struct.Name,
		})
	}
	return c, nil
}

// RequestModule locates the module holding the request variants.
type RequestModule struct {
	Model *eventmodel.Model
	// Import is the package of the request module.
	Import gosrc.Import
	// Discriminant is the wire name of the tag property.
	Discriminant string
}

// Qualifier is the identifier prefixing request module names.
func (r RequestModule) Qualifier() string {
	q := r.Import.Name
	if q == "" {
		q = naming.Package(r.Model.Name)
	}
	if _, taken := localNames[q]; taken {
		q += "ums"
	}
	return q
}

// localNames are identifiers used inside the rendered methods and imports.
var localNames = map[string]struct{}{
	"w": {}, "ctx": {}, "data": {}, "resp": {}, "err": {}, "cb": {}, "msg": {}, "m": {}, "base": {},
	"context": {}, "json": {}, "fmt": {},
}

// Responses builds the request/response contract of the responses module f.
// Methods follow request declaration order and cover the resolved pairs only.
func Responses(f *typegen.File, req RequestModule, res *mapping.Resolution, common string) *Contract {
	rn := typegen.Names{Module: req.Model.Name}
	q := req.Qualifier() + "."
	imp := req.Import
	if imp.Name == "" {
		imp.Name = req.Qualifier()
	}
	disc := req.Discriminant
	if disc == "" {
		disc = eventmodel.DefaultConvention.Discriminant
	}
	c := &Contract{
		Module:    f.Model.Name,
		Pattern:   PatternResponses,
		Names:     f.Names,
		Base:      common + ".SendHandler[" + q + rn.Union() + ", " + f.Names.Union() + "]",
		DiscField: naming.Pascal(disc),
		Requests:  &imp,
	}
	for _, p := range res.Pairs {
		title := p.Request.Title
		c.Methods = append(c.Methods, Method{
			Name:         "Do" + naming.Pascal(title),
			Variant:      title,
			Event:        q + rn.EventConst(title),
			Message:      q + rn.Variant(title),
			Payload:      q + rn.Payload(title),
			PayloadField: rn.Payload(title),
			Result:       "*" + p.Response,
		})
	}
	return c
}

// MethodNames returns the method names in declaration order.
func (c *Contract) MethodNames() []string {
	out := make([]string, len(c.Methods))
	for i, m := range c.Methods {
		out[i] = m.Name
	}
	return out
}
