package rewrite

import "regexp"

// Placeholder marks a root-relative link in cached content. It is resolved
// to the caller's mount prefix when the content is served.
const Placeholder = "__INGRESSPATH__"

// Rule rewrites every match of Outer by replacing all matches of Inner
// within it. Replacement may reference Inner's groups as ${n}.
type Rule struct {
	Outer       *regexp.Regexp
	Inner       *regexp.Regexp
	Replacement string
}

// Apply runs the rule over text.
func (r Rule) Apply(text string) string {
	return r.Outer.ReplaceAllStringFunc(text, func(block string) string {
		return r.Inner.ReplaceAllString(block, r.Replacement)
	})
}

// RuleSet maps an exact request path to the rules applied to it, in order.
type RuleSet map[string][]Rule

// Has reports whether path has path-specific rules.
func (rs RuleSet) Has(path string) bool {
	return len(rs[path]) > 0
}

func dotAll(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)` + pattern)
}

// setProperty builds a rule that sets a CSS property inside every block
// matched by outer to value.
func setProperty(outer *regexp.Regexp, property, value string) Rule {
	return Rule{
		Outer:       outer,
		Inner:       dotAll(`(.*?` + regexp.QuoteMeta(property) + `\s*?:\s*?)(.*?)([;}])`),
		Replacement: "${1}" + value + "${3}",
	}
}

// dropCall builds a rule that removes ", fn(data)" from the matched block.
func dropCall(outer *regexp.Regexp, fn string) Rule {
	return Rule{
		Outer:       outer,
		Inner:       dotAll(`(,\s*` + regexp.QuoteMeta(fn) + `\(data\))`),
		Replacement: "",
	}
}

// MeshOverviewRules trims the router UI down to the bare mesh graph: page
// tabs, header, navigation, breadcrumbs and the blocks below the graph are
// hidden or removed.
func MeshOverviewRules() RuleSet {
	pageTabs := dotAll(`(\.page-tabs--visible\s*\{(.*?)\})`)
	root := dotAll(`(:root\s*\{(.*?)\})`)
	blueBar := dotAll(`(#blueBarBox\s*\{(.*?)\})`)
	menuArea := dotAll(`(\}\s*\.menuArea\s*\{(.*?)\})`)
	media := dotAll(`(@media only screen and \s*\((.*?)\))`)
	blocks := dotAll(`(const blocks\s*=\s*\[(.*?)\])`)

	return RuleSet{
		"/components/PageTabs/style.css": {
			setProperty(pageTabs, "display", "none"),
		},
		"/css/box.css": {
			setProperty(root, "--page-tabs-height-min-l", " 0"),
			setProperty(root, "--page-tabs-height-max-m", " 0"),
			setProperty(root, "--height-header-top", " 0"),
			setProperty(root, "--height-header-top-small", " 0"),
			setProperty(root, "--width-nav-left", " 0"),
			setProperty(root, "--height-breadcrumbs", " 0"),
			setProperty(blueBar, "z-index", " -1"),
			setProperty(menuArea, "padding", " 0"),
		},
		"/net/mesh_overview.css": {
			{
				Outer:       media,
				Inner:       dotAll(`(.*?max-width\s*?:\s*?)(.*?)([)])`),
				Replacement: "${1} 0${3}",
			},
		},
		"/net/mesh_overview.js": {
			dropCall(blocks, "buildIntro"),
			dropCall(blocks, "buildMeshablesInfo"),
			dropCall(blocks, "buildTable"),
			dropCall(blocks, "buildUpdateButton"),
		},
	}
}

type linkRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// ingressLinkRules turn absolute root references into placeholder references.
// Order matters: later patterns see the output of earlier ones.
var ingressLinkRules = []linkRule{
	{dotAll(`<script src="/`), `<script src="` + Placeholder},
	{dotAll(`from\s*"/`), ` from "` + Placeholder},
	{dotAll(` href="/`), ` href="` + Placeholder},
	{dotAll(`:\s*url\(/`), `:url(` + Placeholder},
	{dotAll(`:\s*url\('/`), `: url('` + Placeholder},
	{dotAll(`@import\s*"/`), `@import "` + Placeholder},
	{dotAll(`;const script="/`), `;const script="` + Placeholder},
	{dotAll(`"/?data.lua"`), `"` + Placeholder + `data.lua"`},
	{dotAll(`src:"/`), `src:"` + Placeholder},
	{dotAll(`jsl\.loadCss\("`), `jsl.loadCss("` + Placeholder},
	{dotAll(`"/start"`), `"` + Placeholder + `start"`},
	{dotAll(`logoutWarning:true`), `logoutWarning:false`},
}

var imageMap = dotAll(`(const images\s*=\s*\{(.*?)\})`)
