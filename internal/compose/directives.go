package compose

import (
	"time"

	"github.com/dyluth/certgen/pkg/certificate"
)

// DateLayout renders issued_at. It is a fixed English layout so output does
// not depend on the host locale.
const DateLayout = "02-Jan-2006 15:04"

// RenderDirective is one line of text for the renderer. Text is the literal
// string to draw; escaping is the renderer adapter's job.
type RenderDirective struct {
	Text  string
	X     int
	Y     int
	Size  int
	Color string
}

// FormatDate renders t with DateLayout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// BuildDirectives derives the ordered directive list for req. Fields without
// a placement are skipped; static texts follow the field directives.
func BuildDirectives(req *certificate.Request, layout Layout) []RenderDirective {
	values := map[Field]string{
		FieldRecipientName: req.RecipientName,
		FieldInstitution:   req.Institution,
		FieldTopic:         req.Topic,
		FieldCertificateID: req.CertificateID,
		FieldIssuedAt:      FormatDate(req.IssuedAt),
	}

	directives := make([]RenderDirective, 0, len(fieldOrder)+len(layout.Static))
	for _, f := range fieldOrder {
		p, ok := layout.Fields[f]
		if !ok {
			continue
		}
		directives = append(directives, p.directive(p.Prefix+values[f]))
	}
	for _, s := range layout.Static {
		directives = append(directives, s.Placement.directive(s.Text))
	}
	return directives
}

func (p Placement) directive(text string) RenderDirective {
	return RenderDirective{Text: text, X: p.X, Y: p.Y, Size: p.Size, Color: p.Color}
}
