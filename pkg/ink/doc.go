// Package ink implements a compact interpreter for a subset of the ink narrative
// scripting language.
//
// Parse turns source text into a *Story, or returns a *ParseError listing every
// problem found in the text. A Story is a mutable, single-owner runtime: callers
// advance it line by line with Continue and answer choice points with
// ChooseChoiceIndex.
//
// # Supported syntax
//
//	VAR name = "text" | 12 | 1.5 | true    global variable declaration
//	== knot_name ==                        knot header (any run of two or more '=')
//	Some text {name}                       output line with variable interpolation
//	-> knot_name | -> END | -> DONE        divert
//	* Choice [hidden] text                 once-only choice
//	+ Sticky choice -> knot_name           sticky choice with inline divert
//	- Gathered text                        gather point after a choice group
//	~ name = "value"                       assignment of a literal
//	// comment, trailing #tags             ignored
//
// Diverts resolve to knots first and fall back to the END and DONE keywords.
// Nested choices (** or ++) are rejected.
package ink
