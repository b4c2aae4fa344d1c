package ink

import (
	"fmt"
	"sort"
	"strings"
)

// maxSteps bounds how many non-output nodes settle may walk before giving up on a
// story that diverts in a loop without producing text.
const maxSteps = 10000

// Choice is an option offered at the current choice point.
type Choice struct {
	// Index is the value to pass to ChooseChoiceIndex.
	Index int `json:"index"`

	// Text is the display text of the choice.
	Text string `json:"text"`
}

type frame struct {
	b *block
	i int
}

// Story is a running instance of a parsed ink story. It is not safe for concurrent
// use; callers serialize access.
type Story struct {
	root    *block
	knots   map[string]*block
	initial map[string]interface{}

	vars    map[string]interface{}
	stack   []frame
	offered []*choice
	chosen  map[int]bool
	ended   bool
}

func newStory(root *block, knots map[string]*block, globals map[string]interface{}) *Story {
	s := &Story{
		root:    root,
		knots:   knots,
		initial: globals,
	}
	s.reset()
	return s
}

func (s *Story) reset() {
	s.vars = make(map[string]interface{}, len(s.initial))
	for k, v := range s.initial {
		s.vars[k] = v
	}
	s.stack = []frame{{b: s.root}}
	s.offered = nil
	s.chosen = make(map[int]bool)
	s.ended = false
}

// ResetState rewinds the story to its first line and restores declared variables.
func (s *Story) ResetState() error {
	s.reset()
	if err := s.settle(); err != nil {
		return err
	}
	return nil
}

// CanContinue reports whether Continue would produce another line.
func (s *Story) CanContinue() bool {
	if s.ended || len(s.stack) == 0 || s.offered != nil {
		return false
	}
	f := s.stack[len(s.stack)-1]
	return f.i < len(f.b.nodes) && f.b.nodes[f.i].kind == nodeText
}

// Continue outputs the next line of the story, terminated by a newline.
func (s *Story) Continue() (string, error) {
	if !s.CanContinue() {
		return "", storyErrorf("continue", "story cannot continue")
	}

	f := &s.stack[len(s.stack)-1]
	text := f.b.nodes[f.i].text
	f.i++

	line := s.interpolate(text) + "\n"
	if err := s.settle(); err != nil {
		return line, err
	}
	return line, nil
}

// ContinueMaximally outputs lines until the story reaches a choice point or ends.
func (s *Story) ContinueMaximally() (string, error) {
	var out strings.Builder
	for s.CanContinue() {
		line, err := s.Continue()
		out.WriteString(line)
		if err != nil {
			return out.String(), err
		}
	}
	return out.String(), nil
}

// CurrentChoices returns the choices on offer, in source order. It is empty while
// the story can continue or after it has ended.
func (s *Story) CurrentChoices() []Choice {
	choices := make([]Choice, len(s.offered))
	for i, c := range s.offered {
		choices[i] = Choice{Index: i, Text: s.interpolate(c.display)}
	}
	return choices
}

// ChooseChoiceIndex selects one of CurrentChoices and moves into its content.
func (s *Story) ChooseChoiceIndex(index int) error {
	if index < 0 || index >= len(s.offered) {
		return storyErrorf("choose", "choice index %d out of range (%d on offer)", index, len(s.offered))
	}

	c := s.offered[index]
	s.chosen[c.id] = true

	f := &s.stack[len(s.stack)-1]
	for f.i < len(f.b.nodes) && f.b.nodes[f.i].kind == nodeChoice {
		f.i++
	}
	s.stack = append(s.stack, frame{b: c.body})
	s.offered = nil

	if err := s.settle(); err != nil {
		return err
	}
	return nil
}

// HasEnded reports whether the story reached END, DONE or ran out of content.
func (s *Story) HasEnded() bool {
	return s.ended
}

// Variable returns the current value of a declared variable.
func (s *Story) Variable(name string) (interface{}, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// KnotNames returns the names of all knots in sorted order.
func (s *Story) KnotNames() []string {
	names := make([]string, 0, len(s.knots))
	for name := range s.knots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// settle walks past diverts, assignments and exhausted blocks until the story
// rests on a text line, a choice point, or its end.
func (s *Story) settle() *StoryError {
	s.offered = nil

	for steps := 0; ; steps++ {
		if steps > maxSteps {
			s.stack = nil
			s.ended = true
			return storyErrorf("continue", "no output after %d steps, story diverts in a loop", maxSteps)
		}
		if len(s.stack) == 0 {
			s.ended = true
			return nil
		}

		f := &s.stack[len(s.stack)-1]
		if f.i >= len(f.b.nodes) {
			s.stack = s.stack[:len(s.stack)-1]
			continue
		}

		n := &f.b.nodes[f.i]
		switch n.kind {
		case nodeText:
			return nil
		case nodeAssign:
			s.vars[n.name] = n.value
			f.i++
		case nodeDivert:
			s.divert(n.target)
		case nodeChoice:
			end := f.i
			var offered []*choice
			for end < len(f.b.nodes) && f.b.nodes[end].kind == nodeChoice {
				c := f.b.nodes[end].choice
				if c.sticky || !s.chosen[c.id] {
					offered = append(offered, c)
				}
				end++
			}
			if len(offered) == 0 {
				f.i = end
				continue
			}
			s.offered = offered
			return nil
		}
	}
}

func (s *Story) divert(target string) {
	if b, ok := s.knots[target]; ok {
		s.stack = []frame{{b: b}}
		return
	}
	// END and DONE: resolution already rejected anything else.
	s.stack = nil
}

func (s *Story) interpolate(text string) string {
	if !strings.Contains(text, "{") {
		return text
	}

	var out strings.Builder
	for {
		open := strings.Index(text, "{")
		if open < 0 {
			out.WriteString(text)
			return out.String()
		}
		closing := strings.Index(text[open:], "}")
		if closing < 0 {
			out.WriteString(text)
			return out.String()
		}

		out.WriteString(text[:open])
		name := strings.TrimSpace(text[open+1 : open+closing])
		out.WriteString(fmt.Sprint(s.vars[name]))
		text = text[open+closing+1:]
	}
}
