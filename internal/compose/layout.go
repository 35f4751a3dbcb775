// Package compose places certificate text and the verification token onto
// the template image through an external renderer.
package compose

import (
	"fmt"
	"regexp"
)

// Field identifies a piece of request data that can be placed on the template.
type Field string

const (
	FieldRecipientName Field = "recipient_name"
	FieldInstitution   Field = "institution"
	FieldTopic         Field = "topic"
	FieldCertificateID Field = "certificate_id"
	FieldIssuedAt      Field = "issued_at"
)

// fieldOrder fixes the order directives are emitted in.
var fieldOrder = []Field{
	FieldRecipientName,
	FieldInstitution,
	FieldTopic,
	FieldCertificateID,
	FieldIssuedAt,
}

// requiredFields must have a placement in every layout.
var requiredFields = []Field{FieldRecipientName, FieldInstitution, FieldTopic}

// colorPattern accepts named colors and #RRGGBB. Colors come from
// configuration but still end up in renderer syntax, so they are restricted.
var colorPattern = regexp.MustCompile(`^(#[0-9A-Fa-f]{6}|[A-Za-z]+)$`)

// Placement positions one line of text.
type Placement struct {
	X      int
	Y      int
	Size   int
	Color  string
	Prefix string // rendered literally before the value, e.g. "Date: "
}

// StaticText is fixed text placed on every certificate.
type StaticText struct {
	Text string
	Placement
}

// TokenPlacement positions the verification token image.
type TokenPlacement struct {
	X    int
	Y    int
	Size int
}

// Layout maps request fields to positions on the template.
type Layout struct {
	Fields      map[Field]Placement
	Static      []StaticText
	Token       TokenPlacement
	OutputWidth int // final image width; height keeps aspect ratio
}

// DefaultLayout matches the stock 2000px-wide certificate template.
func DefaultLayout() Layout {
	return Layout{
		Fields: map[Field]Placement{
			FieldRecipientName: {X: 90, Y: 880, Size: 50, Color: "black"},
			FieldInstitution:   {X: 90, Y: 1095, Size: 45, Color: "black"},
			FieldTopic:         {X: 90, Y: 1285, Size: 40, Color: "black"},
			FieldCertificateID: {X: 1695, Y: 110, Size: 20, Color: "darkred"},
			FieldIssuedAt:      {X: 1650, Y: 135, Size: 25, Color: "black", Prefix: "Date: "},
		},
		Token:       TokenPlacement{X: 1650, Y: 1150, Size: 250},
		OutputWidth: 1500,
	}
}

// Validate checks the layout is complete and every value is renderable.
func (l Layout) Validate() error {
	for _, f := range requiredFields {
		if _, ok := l.Fields[f]; !ok {
			return fmt.Errorf("layout: missing placement for %s", f)
		}
	}

	for f, p := range l.Fields {
		if !isKnownField(f) {
			return fmt.Errorf("layout: unknown field %q", f)
		}
		if err := p.validate(string(f)); err != nil {
			return err
		}
	}

	for i, s := range l.Static {
		if s.Text == "" {
			return fmt.Errorf("layout: static[%d]: text is required", i)
		}
		if err := s.Placement.validate(fmt.Sprintf("static[%d]", i)); err != nil {
			return err
		}
	}

	if l.Token.Size <= 0 {
		return fmt.Errorf("layout: token size must be > 0, got %d", l.Token.Size)
	}
	if l.Token.X < 0 || l.Token.Y < 0 {
		return fmt.Errorf("layout: token position must be non-negative")
	}
	if l.OutputWidth < 0 {
		return fmt.Errorf("layout: output_width must be >= 0, got %d", l.OutputWidth)
	}
	return nil
}

func (p Placement) validate(name string) error {
	if p.X < 0 || p.Y < 0 {
		return fmt.Errorf("layout: %s: position must be non-negative", name)
	}
	if p.Size <= 0 {
		return fmt.Errorf("layout: %s: size must be > 0, got %d", name, p.Size)
	}
	if !colorPattern.MatchString(p.Color) {
		return fmt.Errorf("layout: %s: invalid color %q", name, p.Color)
	}
	return nil
}

func isKnownField(f Field) bool {
	for _, k := range fieldOrder {
		if k == f {
			return true
		}
	}
	return false
}
