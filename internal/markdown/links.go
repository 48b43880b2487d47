package markdown

// LinkKind says how a link was written.
type LinkKind string

const (
	LinkKindInline              LinkKind = "inline"
	LinkKindImage               LinkKind = "image"
	LinkKindAuto                LinkKind = "auto"
	LinkKindReferenceDefinition LinkKind = "reference_definition"
)

// Link is one link destination found in generated copy.
type Link struct {
	Kind        LinkKind
	Destination string
}

// Internal reports whether the destination is a site-relative path.
func (l Link) Internal() bool {
	return len(l.Destination) > 0 && l.Destination[0] == '/' &&
		(len(l.Destination) == 1 || l.Destination[1] != '/')
}
