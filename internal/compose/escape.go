package compose

import "strings"

// FFmpeg parses a filtergraph in two passes: the graph parser splits on
// [ ] , ; and strips one level of quoting, then each filter's option parser
// splits on : and strips another. drawtext additionally expands %{...}.
// A value survives both passes literally only if it is escaped for the
// option level first and the graph level second.
var (
	optionEscaper = strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
		`"`, `\"`,
	)
	graphEscaper = strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`[`, `\[`,
		`]`, `\]`,
		`,`, `\,`,
		`;`, `\;`,
	)
)

// Escape makes s safe to embed as a drawtext option value inside a
// filtergraph. The rendered text is exactly s.
func Escape(s string) string {
	return graphEscaper.Replace(optionEscaper.Replace(s))
}
