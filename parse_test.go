package rebel

import (
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

// eventCollector records parse events as strings, so tests compare whole
// event sequences at once.
type eventCollector struct {
	events []string
	fail   error
}

func (c *eventCollector) emit(event string) error {
	if c.fail != nil {
		return c.fail
	}
	c.events = append(c.events, event)
	return nil
}

func (c *eventCollector) String(s string) error {
	return c.emit(fmt.Sprintf("string %q", s))
}

func (c *eventCollector) Word(kind WordKind, name string) error {
	return c.emit(fmt.Sprintf("%v %v", kind, name))
}

func (c *eventCollector) Integer(v int32) error {
	return c.emit(fmt.Sprintf("int %v", v))
}

func (c *eventCollector) Float(v float32) error {
	return c.emit("float " + strconv.FormatFloat(float64(v), 'g', -1, 32))
}

func (c *eventCollector) BeginBlock() error { return c.emit("[") }
func (c *eventCollector) EndBlock() error   { return c.emit("]") }
func (c *eventCollector) BeginPath() error  { return c.emit("<path") }
func (c *eventCollector) EndPath() error    { return c.emit("path>") }

type parseTestCase struct {
	name    string
	input   string
	want    []string
	wantErr error
}

func (pt parseTestCase) run(t *testing.T) {
	t.Run(pt.name, func(t *testing.T) {
		var c eventCollector
		err := Parse(pt.input, &c)
		if pt.wantErr != nil {
			assert.True(t, errors.Is(err, pt.wantErr),
				"expected error %v, got %+v", pt.wantErr, err)
			return
		}
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, pt.want, c.events, "expected event sequence")
	})
}

func runParseTests(t *testing.T, cases []parseTestCase) {
	for _, pt := range cases {
		pt.run(t)
	}
}

func TestParseIntegers(t *testing.T) {
	runParseTests(t, []parseTestCase{
		{name: "simple", input: "1 22 333",
			want: []string{"int 1", "int 22", "int 333"}},
		{name: "signed", input: "+12 -34 0",
			want: []string{"int 12", "int -34", "int 0"}},
		{name: "max", input: "2147483647",
			want: []string{"int 2147483647"}},
		{name: "past max", input: "2147483648",
			wantErr: ErrIntegerOverflow},
		{name: "bracket terminated", input: "[1]",
			want: []string{"[", "int 1", "]"}},
	})
}

func TestParseFloats(t *testing.T) {
	runParseTests(t, []parseTestCase{
		{name: "simple", input: "3.5 -2.5 0.0",
			want: []string{"float 3.5", "float -2.5", "float 0"}},
		{name: "double dot", input: "3.14.1",
			wantErr: UnexpectedCharError('.')},
	})
}

func TestParseStrings(t *testing.T) {
	runParseTests(t, []parseTestCase{
		{name: "simple", input: `"hello" "world"`,
			want: []string{`string "hello"`, `string "world"`}},
		{name: "escapes", input: `"a\nb\tc\"d\\e"`,
			want: []string{`string "a\nb\tc\"d\\e"`}},
		{name: "bad escape", input: `"oops \z"`,
			wantErr: UnexpectedCharError('z')},
		{name: "unterminated", input: `"never ends`,
			wantErr: ErrEndOfInput},
	})
}

func TestParseWords(t *testing.T) {
	runParseTests(t, []parseTestCase{
		{name: "kinds", input: "word set-word: :get-word",
			want: []string{"word word", "set-word set-word", "get-word get-word"}},
		{name: "charset", input: "empty? foo_bar x2",
			want: []string{"word empty?", "word foo_bar", "word x2"}},
		{name: "empty get-word", input: "[:]",
			wantErr: ErrEmptyWord},
		{name: "bare colon", input: ":",
			wantErr: ErrEmptyWord},
		{name: "unexpected char", input: "{",
			wantErr: UnexpectedCharError('{')},
	})
}

func TestParseOperators(t *testing.T) {
	runParseTests(t, []parseTestCase{
		{name: "infix plus", input: "5 + 5",
			want: []string{"int 5", "word +", "int 5"}},
		{name: "attached sign", input: "5 +5",
			want: []string{"int 5", "int 5"}},
		{name: "less than", input: "either 5 < 10",
			want: []string{"word either", "int 5", "word <", "int 10"}},
		{name: "greater than", input: "a > b",
			want: []string{"word a", "word >", "word b"}},
		{name: "trailing", input: "1 +",
			want: []string{"int 1", "word +"}},
		{name: "bad operator", input: "<5",
			wantErr: UnexpectedCharError('5')},
	})
}

func TestParseBlocks(t *testing.T) {
	runParseTests(t, []parseTestCase{
		{name: "flat", input: "[1 2]",
			want: []string{"[", "int 1", "int 2", "]"}},
		{name: "nested", input: "1 [2 [3] 4]",
			want: []string{"int 1", "[", "int 2", "[", "int 3", "]", "int 4", "]"}},
		{name: "empty", input: "[]",
			want: []string{"[", "]"}},
	})
}

func TestParsePaths(t *testing.T) {
	runParseTests(t, []parseTestCase{
		{name: "pair", input: "a/b",
			want: []string{"<path", "word a", "word b", "path>"}},
		{name: "triple", input: "c/d/e",
			want: []string{"<path", "word c", "word d", "word e", "path>"}},
		{name: "two paths", input: "a/b c/d",
			want: []string{"<path", "word a", "word b", "path>",
				"<path", "word c", "word d", "path>"}},
		{name: "index segment", input: "a/1",
			want: []string{"<path", "word a", "int 1", "path>"}},
		{name: "in block", input: "[a/b]",
			want: []string{"[", "<path", "word a", "word b", "path>", "]"}},
	})
}

func TestParseComments(t *testing.T) {
	runParseTests(t, []parseTestCase{
		{name: "line comment", input: "1 ; ignored\n2",
			want: []string{"int 1", "int 2"}},
		{name: "comment at end", input: "1 ; runs off",
			want: []string{"int 1"}},
		{name: "full line", input: "; a comment\nword",
			want: []string{"word word"}},
	})
}

func TestParseBlockWraps(t *testing.T) {
	var c eventCollector
	err := ParseBlock(`word 123 "string"`, &c)
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"[", "word word", "int 123", `string "string"`, "]",
	}, c.events)
}

func TestParseDeterministic(t *testing.T) {
	const input = `x: 5 [a/b "s"] either x < 9 [1] [2.5]`
	var c1, c2 eventCollector
	assert.NoError(t, Parse(input, &c1))
	assert.NoError(t, Parse(input, &c2))
	assert.Equal(t, c1.events, c2.events, "same source, same event sequence")
}

func TestParseCollectorError(t *testing.T) {
	boom := errors.New("boom")
	c := eventCollector{fail: boom}
	err := Parse("1 2 3", &c)
	assert.True(t, errors.Is(err, boom), "collector errors pass through: %+v", err)

	var ce CollectorError
	assert.True(t, errors.As(err, &ce), "wrapped as a collector error")
}
